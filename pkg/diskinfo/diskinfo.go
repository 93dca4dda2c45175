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

// Package diskinfo derives the display name, removability and partition
// list of a newly arrived disk from sysfs, the same source
// block_device.rs's BlockDevice::try_from(UEvent) and find_disk_partitions
// read from.
package diskinfo

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/types"
)

const sysClassBlock = "/sys/class/block"

// Disk is everything the daemon needs about a disk beyond its mountable
// partitions, read once when the "add" uevent for it arrives.
type Disk struct {
	// Name is "<vendor> <model> (<subsystem>)", e.g. "Kingston DataTraveler (usb)".
	Name string
	// Removable mirrors /sys/class/block/<dev>/removable; unreadable counts
	// as removable, matching the source's fail-safe default.
	Removable bool
	// Partitions holds each partition's /dev device path, in sysfs listing order.
	Partitions []string
}

// Describe reads devName's (e.g. "sda") vendor/model/subsystem and
// removable attributes, and lists its partitions' device paths.
func Describe(fs types.FS, devName string) Disk {
	return Disk{
		Name:       describeName(fs, devName),
		Removable:  readRemovable(fs, devName),
		Partitions: findPartitions(fs, devName),
	}
}

func describeName(fs types.FS, devName string) string {
	vendor := readTrimmed(fs, path.Join(sysClassBlock, devName, "device/vendor"), "Unknown")
	model := readTrimmed(fs, path.Join(sysClassBlock, devName, "device/model"), "Unknown")

	subsystem := "unknown"
	if target, err := fs.Readlink(path.Join(sysClassBlock, devName, "device/subsystem")); err == nil {
		subsystem = path.Base(target)
	}

	return fmt.Sprintf("%s %s (%s)", vendor, model, subsystem)
}

func readRemovable(fs types.FS, devName string) bool {
	v := readTrimmed(fs, path.Join(sysClassBlock, devName, "removable"), "1")
	n, err := strconv.Atoi(v)
	if err != nil {
		return true
	}
	return n == 1
}

// findPartitions lists every entry under /sys/class/block whose own uevent
// reports DEVTYPE=partition and whose DEVNAME names a partition of devName,
// mirroring find_disk_partitions's per-entry uevent read and filter, with
// the filter closure specialized from an arbitrary predicate to "belongs to
// this disk" (a name-prefix match, since a partition's DEVNAME is always
// the disk's DEVNAME plus a partition suffix on Linux).
func findPartitions(fs types.FS, devName string) []string {
	entries, err := fs.ReadDir(sysClassBlock)
	if err != nil {
		return nil
	}

	var partitions []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, devName) || name == devName {
			continue
		}
		data, err := fs.ReadFile(path.Join(sysClassBlock, name, "uevent"))
		if err != nil {
			continue
		}
		env := parseUevent(string(data))
		if env["DEVTYPE"] != "partition" {
			continue
		}
		devNode := env["DEVNAME"]
		if devNode == "" {
			devNode = name
		}
		partitions = append(partitions, "/dev/"+devNode)
	}
	return partitions
}

func readTrimmed(fs types.FS, p, fallback string) string {
	data, err := fs.ReadFile(p)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(string(data))
}

func parseUevent(s string) map[string]string {
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
