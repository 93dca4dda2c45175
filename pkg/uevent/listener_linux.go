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

package uevent

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// Listener reads kobject uevents off a netlink socket and dispatches parsed
// Events onto a channel. It runs on its own goroutine; cancellation is
// cooperative via an atomic flag checked between receives, matching the
// concurrency contract in SPEC_FULL.md §5.
type Listener struct {
	logger  types.Logger
	fs      types.FS
	fd      int
	stopped atomic.Bool
}

const pollInterval = 50 * time.Millisecond

// NewListener binds a netlink socket to the kernel object-event multicast
// group. The socket is nonblocking so the receive loop can poll the stop
// flag between reads.
func NewListener(logger types.Logger, fs types.FS) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, bootctl.Wrap(bootctl.KindIoError, "opening netlink uevent socket", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, bootctl.Wrap(bootctl.KindIoError, "binding netlink uevent socket", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, bootctl.Wrap(bootctl.KindIoError, "setting netlink socket nonblocking", err)
	}
	return &Listener{logger: logger, fs: fs, fd: fd}, nil
}

// Stop requests the receive loop to exit at its next poll.
func (l *Listener) Stop() {
	l.stopped.Store(true)
}

// Close releases the underlying socket. Call after Run has returned.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Run performs the startup scan of /sys/class/block (catching devices that
// existed before the listener started, a significant fraction in the racy
// early-boot window) and then blocks reading uevents, dispatching each onto
// events until Stop is called.
func (l *Listener) Run(events chan<- Event) error {
	for _, ev := range l.startupScan() {
		events <- ev
	}

	buf := make([]byte, 16*1024)
	for !l.stopped.Load() {
		n, _, err := unix.Recvfrom(l.fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(pollInterval)
				continue
			}
			return bootctl.Wrap(bootctl.KindIoError, "reading uevent", err)
		}
		ev, err := Parse(buf[:n])
		if err != nil {
			l.logger.Warnf("dropping unparsable uevent: %v", err)
			continue
		}
		if ev.Action == ActionUnknown {
			l.logger.Debugf("ignoring uevent with unknown action on %s", ev.DevPath)
			continue
		}

		l.reconcileDevNode(ev)
		events <- ev
	}
	return nil
}

// startupScan synthesizes add events for every block device already present
// under /sys/class/block, since the netlink socket only sees events from the
// moment it's bound.
func (l *Listener) startupScan() []Event {
	var out []Event
	entries, err := l.fs.ReadDir("/sys/class/block")
	if err != nil {
		l.logger.Debugf("startup scan: %v", err)
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		ueventPath := filepath.Join("/sys/class/block", name, "uevent")
		data, err := l.fs.ReadFile(ueventPath)
		if err != nil {
			continue
		}
		env := parseKeyEqualsValueLines(string(data))
		env["SUBSYSTEM"] = "block"
		env["DEVNAME"] = env["DEVNAME"]
		if env["DEVNAME"] == "" {
			env["DEVNAME"] = name
		}
		if env["DEVTYPE"] == "" {
			env["DEVTYPE"] = "disk"
		}
		if seq, err := l.fs.ReadFile(filepath.Join("/sys/class/block", name, "diskseq")); err == nil {
			env["DISKSEQ"] = strings.TrimSpace(string(seq))
		}
		major, minor := 0, 0
		if m, n, ok := readMajorMinor(l.fs, filepath.Join("/sys/class/block", name, "dev")); ok {
			major, minor = m, n
		}
		out = append(out, Event{
			Action:  ActionAdd,
			DevPath: "/devices/virtual/block/" + name,
			Major:   major,
			Minor:   minor,
			DevName: env["DEVNAME"],
			DevType: DeviceTypeBlock,
			Env:     env,
		})
	}
	return out
}

func parseKeyEqualsValueLines(s string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func readMajorMinor(fs types.FS, path string) (int, int, bool) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	majorMinor := strings.TrimSpace(string(data))
	major, minor, ok := strings.Cut(majorMinor, ":")
	if !ok {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(major)
	min, err2 := strconv.Atoi(minor)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// reconcileDevNode creates or removes /dev/<DEVNAME> for add/remove events,
// the way the source replies to hot-plug notifications.
func (l *Listener) reconcileDevNode(ev Event) {
	if ev.DevName == "" {
		return
	}
	path := "/dev/" + ev.DevName

	switch ev.Action {
	case ActionAdd:
		mode := uint32(0660)
		if ev.DevType == DeviceTypeBlock {
			mode |= unix.S_IFBLK
		} else {
			mode |= unix.S_IFCHR
		}
		dev := unix.Mkdev(uint32(ev.Major), uint32(ev.Minor))
		if err := unix.Mknod(path, mode, int(dev)); err != nil && err != unix.EEXIST {
			l.logger.Warnf("failed to create device node %s: %v", path, err)
		}
	case ActionRemove:
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			l.logger.Warnf("failed to remove device node %s: %v", path, err)
		}
	}
}
