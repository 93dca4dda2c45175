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

// Package kexec loads a verified kernel and initrd into the running kernel
// via kexec_file_load and, later, jumps to it via the kexec reboot command.
// Loading and the jump are deliberately two separate operations: the
// selection state machine unmounts every mounted device between them.
package kexec

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

const (
	kexecLoadedPath = "/sys/kernel/kexec_loaded"
	pollInterval    = 100 * time.Millisecond
)

// Load opens kernelPath and, if initrdPath is non-empty, initrdPath, and
// issues kexec_file_load with the given cmdline. KEXEC_FILE_NO_INITRAMFS is
// set automatically when no initrd is supplied. On success it blocks until
// /sys/kernel/kexec_loaded reads "1\n" and flushes the page cache with sync,
// matching the grounding source's load-then-poll-then-sync sequence.
func Load(fs types.FS, kernelPath, initrdPath, cmdline string) error {
	kernel, err := fs.Open(kernelPath)
	if err != nil {
		return bootctl.New(bootctl.KindKexecLoadFailed, fmt.Sprintf("opening kernel %s: %v", kernelPath, err))
	}
	defer kernel.Close()

	var initrdFd uintptr
	if initrdPath != "" {
		initrd, err := fs.Open(initrdPath)
		if err != nil {
			return bootctl.New(bootctl.KindKexecLoadFailed, fmt.Sprintf("opening initrd %s: %v", initrdPath, err))
		}
		defer initrd.Close()
		initrdFd = initrd.Fd()
	}
	flags := flagsFor(initrdPath != "")
	cmdlineBytes := buildCmdline(cmdline)

	_, _, errno := unix.Syscall6(
		unix.SYS_KEXEC_FILE_LOAD,
		kernel.Fd(),
		initrdFd,
		uintptr(len(cmdlineBytes)),
		uintptr(unsafe.Pointer(&cmdlineBytes[0])),
		flags,
		0,
	)
	// The x/sys/unix Syscall6 wrapper already decodes the kernel's
	// negative-errno-in-the-top-4096-values convention into errno; no
	// separate architecture-specific raw-syscall path is needed here the
	// way the grounding source's inline-assembly variants are, since
	// x/sys/unix already carries SYS_KEXEC_FILE_LOAD for every
	// architecture this component targets.
	if errno != 0 {
		return bootctl.New(classifyErrno(errno), fmt.Sprintf("kexec_file_load: %v", errno))
	}

	if err := waitForKexecLoaded(fs); err != nil {
		return err
	}

	unix.Sync()
	return nil
}

// flagsFor returns the kexec_file_load flags word for whether an initrd was
// supplied: KEXEC_FILE_NO_INITRAMFS is set, and the initrd fd argument is
// ignored by the kernel, whenever there is none.
func flagsFor(hasInitrd bool) uintptr {
	if hasInitrd {
		return 0
	}
	return unix.KEXEC_FILE_NO_INITRAMFS
}

// buildCmdline returns cmdline as a NUL-terminated byte slice; the syscall's
// length argument counts the terminator.
func buildCmdline(cmdline string) []byte {
	return append([]byte(cmdline), 0)
}

// classifyErrno maps a kexec_file_load failure to its error kind. IMA
// appraisal rejecting the image surfaces through the kernel as EACCES (or,
// on some kernels, EKEYREJECTED), which the UI reports as "validation
// failed" rather than a generic load failure.
func classifyErrno(errno unix.Errno) bootctl.Kind {
	switch errno {
	case unix.EACCES, unix.EPERM, unix.EKEYREJECTED:
		return bootctl.KindPermissionDenied
	default:
		return bootctl.KindKexecLoadFailed
	}
}

const kexecLoadedMarker = "1\n"

func waitForKexecLoaded(fs types.FS) error {
	for {
		loaded, err := fs.ReadFile(kexecLoadedPath)
		if err != nil {
			return bootctl.New(bootctl.KindIoError, fmt.Sprintf("reading %s: %v", kexecLoadedPath, err))
		}
		if string(loaded) == kexecLoadedMarker {
			return nil
		}
		time.Sleep(pollInterval)
	}
}

// Execute performs the in-kernel soft reboot into the image kexec_file_load
// already staged. It does not return under normal operation; the caller
// (the selection state machine's Handover state) treats a returned error as
// fatal.
func Execute() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_KEXEC)
}
