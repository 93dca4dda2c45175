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

package system

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// UIUid and UIGid are the fixed unprivileged identity the UI client runs
// as; the daemon keeps running as root (it alone needs CAP_SYS_BOOT for
// kexec_file_load/reboot and CAP_SYSLOG for /dev/kmsg).
const (
	UIUid = 1000
	UIGid = 1000
)

// DropPrivileges permanently switches the calling process (normally a
// freshly forked child about to exec the UI shell) to uid/gid, clearing
// supplementary groups first. Order matters: the gid change must happen
// while still root, since dropping uid first would make the gid change
// fail with EPERM.
func DropPrivileges(uid, gid int) error {
	if err := unix.Setgroups(nil); err != nil {
		return fmt.Errorf("clearing supplementary groups: %w", err)
	}
	if err := unix.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("setting gid to %d: %w", gid, err)
	}
	if err := unix.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("setting uid to %d: %w", uid, err)
	}
	return nil
}
