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

// Command tboot-bless-boot-generator is a systemd generator
// (systemd.generator(7)): systemd runs it once early in boot with three
// directory arguments (normal, early, late unit dirs) and it arranges, by
// creating symlinks, for tboot-bless-boot.service to run later in the same
// boot. It never talks to systemd's control socket, which does not exist
// yet at generator time.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/systemd"
	"github.com/kexecboot/kexecboot/pkg/types"
)

const unitName = "tboot-bless-boot.service"

// unitContent is the oneshot unit the generator installs on each run, before
// creating the want-symlink that pulls it into basic.target.
var unitContent = []byte(`[Unit]
Description=Mark the current boot entry good
DefaultDependencies=no
After=multi-user.target
ConditionPathExists=/proc/cmdline

[Service]
Type=oneshot
ExecStart=/usr/bin/tboot-bless-boot --efi-sys-mount-point /boot good
`)

func main() {
	if err := run(os.Args[1:], types.OSFS{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, fs types.FS) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s NORMAL-DIR EARLY-DIR [LATE-DIR]", os.Args[0])
	}
	earlyDir := args[1]

	// https://www.freedesktop.org/software/systemd/man/latest/systemd.generator.html#%24SYSTEMD_IN_INITRD
	if os.Getenv("SYSTEMD_IN_INITRD") == "1" {
		return nil
	}

	cmdline, err := fs.ReadFile("/proc/cmdline")
	if err != nil {
		return fmt.Errorf("reading /proc/cmdline: %w", err)
	}
	if !strings.Contains(string(cmdline), "tboot.bls-entry") {
		return nil
	}

	if err := systemd.Install(fs, systemd.NewUnit(unitName, unitContent)); err != nil {
		return fmt.Errorf("installing %s: %w", unitName, err)
	}
	if err := systemd.Want(fs, earlyDir, "basic.target", unitName); err != nil {
		return fmt.Errorf("wanting %s into basic.target: %w", unitName, err)
	}
	return nil
}
