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

package log

import (
	"fmt"
	"os"

	logrus "github.com/sirupsen/logrus"
)

// DefaultKmsgPath is the kernel's userspace log device, writable by anyone
// with CAP_SYSLOG (the daemon runs as root, per §4.13).
const DefaultKmsgPath = "/dev/kmsg"

// KmsgHook is a logrus.Hook that mirrors every log record into the kernel
// ring buffer, so early-boot failures are visible on the console/serial log
// even when stderr is not attached to anything a human can see (§4.15/§6).
// No pack library wraps /dev/kmsg — this is, along with the kexec_file_load
// syscall in pkg/kexec, one of the two places the ecosystem bottoms out and
// plain os.OpenFile is the honest choice.
type KmsgHook struct {
	prefix string
	file   *os.File
}

// NewKmsgHook opens path (normally DefaultKmsgPath) for writing and returns
// a hook that tags every record with prefix, e.g. "tbootd".
func NewKmsgHook(prefix, path string) (*KmsgHook, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &KmsgHook{prefix: prefix, file: f}, nil
}

// Close releases the underlying kmsg file descriptor.
func (h *KmsgHook) Close() error {
	return h.file.Close()
}

func (h *KmsgHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire writes one "<priority>PREFIX[LEVEL]: MESSAGE\n" line to /dev/kmsg.
// The leading "<priority>" is the kernel's own printk-facility syntax for
// userspace writers of /dev/kmsg; everything after it is kexecboot's own
// PREFIX[LEVEL]: MESSAGE convention.
func (h *KmsgHook) Fire(entry *logrus.Entry) error {
	line := fmt.Sprintf("<%d>%s[%s]: %s\n", printkLevel(entry.Level), h.prefix,
		entry.Level.String(), entry.Message)
	_, err := h.file.WriteString(line)
	return err
}

// printkLevel translates a logrus level to a kernel printk priority
// (2=crit for Panic and Fatal, then 3=err .. 7=debug; Trace is folded into
// the kernel's debug priority since printk has none finer).
func printkLevel(l logrus.Level) int {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return 2 // KERN_CRIT
	case logrus.ErrorLevel:
		return 3 // KERN_ERR
	case logrus.WarnLevel:
		return 4 // KERN_WARNING
	case logrus.InfoLevel:
		return 6 // KERN_INFO
	default: // DebugLevel, TraceLevel
		return 7 // KERN_DEBUG
	}
}
