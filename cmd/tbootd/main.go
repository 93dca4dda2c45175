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

// Command tbootd is the privileged boot daemon: it discovers bootable
// media, measures and verifies the operator's selection, and hands over to
// the chosen kernel via kexec. It owns the IPC socket cmd/tbootctl talks to.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	mountutils "k8s.io/mount-utils"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/config"
	"github.com/kexecboot/kexecboot/pkg/ipc"
	"github.com/kexecboot/kexecboot/pkg/kexec"
	"github.com/kexecboot/kexecboot/pkg/log"
	"github.com/kexecboot/kexecboot/pkg/mount"
	"github.com/kexecboot/kexecboot/pkg/system"
	"github.com/kexecboot/kexecboot/pkg/tpm"
	"github.com/kexecboot/kexecboot/pkg/types"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tbootd",
		Short: "kexecboot boot daemon",
		RunE:  run,
	}
	cmd.Flags().Bool("debug", false, "Enable debug output")
	cmd.Flags().String("config-dir", "/etc/kexecboot", "Directory holding config.yaml")
	cmd.Flags().String("socket-path", "", "Override the IPC socket path")
	cmd.Flags().String("tty", "", "Override the console TTY")
	cmd.Flags().String("verification-key", "", "Override the Ed25519/x509 verification key path")
	cmd.Flags().String("bls-entry", "", "BLS entry name to record boot-counter results against")
	cmd.Flags().Int("ui-uid", system.UIUid, "uid the IPC socket is chowned to, for the unprivileged UI client")
	cmd.Flags().Int("ui-gid", system.UIGid, "gid the IPC socket is chowned to, for the unprivileged UI client")
	cmd.Flags().Bool("no-tpm", false, "Disable TPM PCR measurement even if a TPM device is present")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor mirrors the teacher's ElementalError.ExitCode() convention,
// reusing bootctl.Kind as the taxonomy instead of a dedicated exit-code
// type: a fatal Kind exits 1, everything else that still reached main's
// top level (a config or startup failure) exits 2.
func exitCodeFor(err error) int {
	if bootctl.KindOf(err).Fatal() {
		return 1
	}
	return 2
}

func run(cmd *cobra.Command, _ []string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	v := viper.New()
	cfg, err := config.Load(v, cmd.Flags(), configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	fs := types.OSFS{}
	if cmdline, err := fs.ReadFile("/proc/cmdline"); err == nil {
		config.FoldCmdline(cfg, string(cmdline))
	}

	logger := log.NewLogger()
	logger.SetLevel(cfg.ParsedLogLevel())
	if hook, err := log.NewKmsgHook("tbootd", log.DefaultKmsgPath); err == nil {
		logger.AddHook(hook)
	} else {
		logger.Debugf("kmsg hook unavailable: %v", err)
	}

	bringup, err := system.NewBringup(
		system.WithMounter(mountutils.New("")),
		system.WithFS(fs),
		system.WithKeyAdder(system.NewKeyAdder()),
		system.WithVerificationKeyPath(cfg.VerificationKeyPath),
	)
	if err != nil {
		return fmt.Errorf("configuring startup sequence: %w", err)
	}
	if err := bringup.Run(); err != nil {
		logger.Errorf("startup sequence failed: %v", err)
	}

	booter := &daemonBooter{fs: fs, logger: logger}
	if cfg.VerificationKeyPath != "" {
		if pub, err := loadVerificationKey(fs, cfg.VerificationKeyPath); err != nil {
			logger.Warnf("verified boot disabled: %v", err)
		} else {
			booter.publicKey = pub
		}
	}
	noTPM, _ := cmd.Flags().GetBool("no-tpm")
	if !noTPM {
		if dev, err := tpm.Open(tpm.DefaultDevice); err != nil {
			logger.Warnf("TPM measurement disabled: %v", err)
		} else {
			booter.ext = dev
			defer dev.Close()
		}
	}

	mgr := mount.NewManager(logger, fs, mountutils.New(""))
	daemon := NewDaemon(logger, booter, mgr, fs)

	uid, _ := cmd.Flags().GetInt("ui-uid")
	gid, _ := cmd.Flags().GetInt("ui-gid")
	listener, err := ipc.Listen(cfg.SocketPath, uid, gid)
	if err != nil {
		return fmt.Errorf("binding IPC socket: %w", err)
	}
	defer listener.Close()
	go serveIPC(listener, daemon, logger)

	go func() {
		if err := runDeviceLoop(logger, fs, mgr, daemon); err != nil {
			logger.Errorf("device discovery loop exited: %v", err)
		}
	}()

	return daemon.Run(kexec.Execute)
}
