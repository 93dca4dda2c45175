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

// Command tbootctl is the unprivileged UI client: a line-oriented shell
// (and a handful of scriptable one-shot subcommands) over the daemon's IPC
// socket, consuming pkg/ipc the way the privileged daemon never needs to.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kexecboot/kexecboot/pkg/config"
	"github.com/kexecboot/kexecboot/pkg/ipc"
	"github.com/kexecboot/kexecboot/pkg/system"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tbootctl",
		Short: "kexecboot UI client",
		RunE:  runShell,
	}
	cmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	cmd.PersistentFlags().String("config-dir", "/etc/kexecboot", "Directory holding config.yaml")
	cmd.PersistentFlags().String("socket-path", "", "Override the IPC socket path")

	cmd.AddCommand(newListCmd(), newBootCmd(), newRebootCmd(), newPoweroffCmd(), newWatchCmd(), newVersionCmd())
	return cmd
}

func socketPathFromFlags(cmd *cobra.Command) (string, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	v := viper.New()
	cfg, err := config.Load(v, cmd.Flags(), configDir)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return cfg.SocketPath, nil
}

func main() {
	// A console getty sometimes launches the UI client as root; the
	// daemon is the only process that needs privilege, so this drops to
	// the fixed unprivileged UI identity before touching the socket.
	if os.Geteuid() == 0 {
		if err := system.DropPrivileges(system.UIUid, system.UIGid); err != nil {
			fmt.Fprintf(os.Stderr, "failed to drop privileges: %v\n", err)
			os.Exit(1)
		}
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered block devices and their boot entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := socketPathFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := dial(path)
			if err != nil {
				return err
			}
			defer c.Close()

			devices, err := c.listDevices()
			if err != nil {
				return err
			}
			printDevices(devices)
			return nil
		},
	}
}

func newBootCmd() *cobra.Command {
	var device, entry int
	var cmdline string
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot a specific device/entry (1-based; 0 means \"unspecified\")",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := socketPathFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := dial(path)
			if err != nil {
				return err
			}
			defer c.Close()

			return c.boot(intOrNil(device), intOrNil(entry), stringOrNil(cmdline))
		},
	}
	cmd.Flags().IntVar(&device, "device", 0, "1-based device index")
	cmd.Flags().IntVar(&entry, "entry", 0, "1-based entry index within the device")
	cmd.Flags().StringVar(&cmdline, "cmdline", "", "Override kernel command line")
	return cmd
}

func newRebootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reboot",
		Short: "Ask the daemon to reboot immediately",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := socketPathFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := dial(path)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.reboot()
		},
	}
}

func newPoweroffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poweroff",
		Short: "Ask the daemon to power off immediately",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := socketPathFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := dial(path)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.poweroff()
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream NewDevice/TimeLeft events until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := socketPathFromFlags(cmd)
			if err != nil {
				return err
			}
			c, err := dial(path)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.watch(printEvent)
		},
	}
}

// runShell is the default (no subcommand) entrypoint: a line-oriented
// shell that streams device/countdown events to stdout while reading
// commands from stdin, for a console attached to cfg.TTY. It is
// deliberately not a full terminal UI (the grounding source's own tbootui
// is itself only an unfinished raw-terminal prototype); a teletype-style
// prompt loop matches how every other daemon/client split in the pack
// drives its own interactive console.
func runShell(cmd *cobra.Command, _ []string) error {
	path, err := socketPathFromFlags(cmd)
	if err != nil {
		return err
	}
	c, err := dial(path)
	if err != nil {
		return err
	}
	defer c.Close()

	events := make(chan ipc.ServerMessage)
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.watch(func(msg ipc.ServerMessage) error {
			events <- msg
			return nil
		})
	}()

	fmt.Println("kexecboot> type 'help' for commands")
	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		select {
		case msg := <-events:
			printEvent(msg)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := runShellCommand(path, line); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		case err := <-errCh:
			return err
		}
	}
}

func readLines(in *os.File, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// runShellCommand opens its own short-lived connection per command rather
// than reusing the streaming one, since the streaming connection's read
// loop is already committed to draining NewDevice/TimeLeft broadcasts.
func runShellCommand(socketPath, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	c, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer c.Close()

	switch fields[0] {
	case "help":
		fmt.Println("commands: list, boot <device> <entry> [cmdline...], present, reboot, poweroff")
		return nil
	case "list":
		devices, err := c.listDevices()
		if err != nil {
			return err
		}
		printDevices(devices)
		return nil
	case "present":
		return c.userIsPresent()
	case "reboot":
		return c.reboot()
	case "poweroff":
		return c.poweroff()
	case "boot":
		return runBootShellCommand(c, fields[1:])
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func runBootShellCommand(c *client, args []string) error {
	var device, entry *int
	var cmdline *string
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid device index %q: %w", args[0], err)
		}
		device = &n
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid entry index %q: %w", args[1], err)
		}
		entry = &n
	}
	if len(args) > 2 {
		joined := strings.Join(args[2:], " ")
		cmdline = &joined
	}
	return c.boot(device, entry, cmdline)
}

func printDevices(devices []ipc.BlockDevice) {
	for i, d := range devices {
		fmt.Printf("%d: %s (removable=%v timeout=%ds)\n", i+1, d.Name, d.Removable, d.Timeout)
		for j, label := range d.Entries {
			fmt.Printf("    %d: %s\n", j+1, label)
		}
	}
}

func printEvent(msg ipc.ServerMessage) {
	switch msg.Type {
	case ipc.NewDeviceMsg:
		if msg.NewDevice != nil {
			fmt.Printf("new device: %s\n", msg.NewDevice.Name)
		}
	case ipc.TimeLeft:
		if msg.SecondsLeft != nil {
			fmt.Printf("booting default in %ds (type 'present' to interrupt)\n", *msg.SecondsLeft)
		}
	case ipc.ServerErrorMsg:
		fmt.Fprintf(os.Stderr, "daemon error: %s\n", msg.Error)
	}
}

func intOrNil(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func stringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
