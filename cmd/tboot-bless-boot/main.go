/*
Copyright © 2024 The kexecboot Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command tboot-bless-boot records whether the BLS entry /proc/cmdline
// names as tboot.bls-entry survived to a successful userspace boot, by
// renaming its boot-counter filename under loader/entries.
package main

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/kexecboot/kexecboot/pkg/bootcfg/bls"
	"github.com/kexecboot/kexecboot/pkg/config"
	"github.com/kexecboot/kexecboot/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var espMountPoint string
	cmd := &cobra.Command{
		Use:   "tboot-bless-boot",
		Short: "Mark the current BLS boot entry good or bad",
	}
	cmd.PersistentFlags().StringVar(&espMountPoint, "efi-sys-mount-point", "", "Mount point of the ESP holding loader/entries")
	_ = cmd.MarkPersistentFlagRequired("efi-sys-mount-point")

	cmd.AddCommand(
		newActionCmd("good", "Clear the failed-boot counter for this entry", &espMountPoint, runGood),
		newActionCmd("bad", "Record a failed boot attempt for this entry", &espMountPoint, runBad),
		newActionCmd("status", "Print the current boot-counter state for this entry", &espMountPoint, runStatus),
	)
	return cmd
}

func newActionCmd(use, short string, espMountPoint *string, run func(fs types.FS, dir, filename string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(*cobra.Command, []string) error {
			fs := types.OSFS{}
			dir, filename, err := locateEntry(fs, *espMountPoint)
			if err != nil {
				return err
			}
			return run(fs, dir, filename)
		},
	}
}

// locateEntry reads /proc/cmdline for tboot.bls-entry, then scans
// loader/entries under espMountPoint for the file whose boot-counter name
// matches it, grounded on the reference implementation's find_entry.
func locateEntry(fs types.FS, espMountPoint string) (dir, filename string, err error) {
	if espMountPoint == "" {
		return "", "", fmt.Errorf("--efi-sys-mount-point is required")
	}

	cmdline, err := fs.ReadFile("/proc/cmdline")
	if err != nil {
		return "", "", fmt.Errorf("reading /proc/cmdline: %w", err)
	}
	entryName, ok := config.FirstToken(config.ParseCmdlineTokens(string(cmdline)), "bls-entry")
	if !ok {
		return "", "", fmt.Errorf("no tboot.bls-entry= token on the kernel command line")
	}

	dir = path.Join(espMountPoint, "loader", "entries")
	dirEntries, err := fs.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		c, err := bls.ParseFilename(de.Name())
		if err != nil {
			continue
		}
		if c.Name == entryName {
			return dir, de.Name(), nil
		}
	}
	return "", "", fmt.Errorf("no boot entry named %q under %s", entryName, dir)
}

func runGood(fs types.FS, dir, filename string) error {
	return bls.MarkGood(fs, dir, filename)
}

func runBad(fs types.FS, dir, filename string) error {
	return bls.MarkBad(fs, dir, filename)
}

func runStatus(fs types.FS, dir, filename string) error {
	c, err := bls.ParseFilename(filename)
	if err != nil {
		return err
	}
	fmt.Printf("%s:\n", path.Join(dir, filename))
	switch {
	case c.Left == nil:
		fmt.Println("\tentry is good")
	case *c.Left > 0:
		fmt.Printf("\t%d tries left until entry is bad\n", *c.Left)
	default:
		fmt.Println("\tentry is bad")
	}
	return nil
}
