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

package bootctl

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Entry is a normalized boot entry: one kernel, at most one initrd, a
// cmdline, an optional device tree blob. Every path has already been
// resolved to an absolute path under its owning mount, so an Entry carries
// no back-reference to the catalog it came from (see SPEC_FULL.md §9).
type Entry struct {
	// Label is what the operator sees.
	Label string
	// Kernel is always present and points at a regular file.
	Kernel string
	// Initrd is optional; a catalog naming several is truncated to the first.
	Initrd string
	// Cmdline is a UTF-8 string with no embedded NULs.
	Cmdline string
	// Devicetree is optional.
	Devicetree string
	// Default marks this entry as its device's default selection.
	Default bool
	// ID is an identifier stable across reboots, when the catalog provides one.
	ID string
}

// Validate enforces the Entry invariants from the data model.
func (e Entry) Validate() error {
	if e.Kernel == "" {
		return New(KindInvalidEntry, "entry has no kernel path")
	}
	if strings.ContainsRune(e.Cmdline, 0) {
		return New(KindInvalidEntry, "cmdline contains an embedded NUL")
	}
	if !utf8.ValidString(e.Cmdline) {
		return New(KindInvalidEntry, "cmdline is not valid UTF-8")
	}
	return nil
}

// Device is a boot-capable piece of media: a display name, whether it's
// removable, a selection timeout, its mount bindings, and its entries.
type Device struct {
	// Name is vendor + model + subsystem tag, e.g. "Kingston DataTraveler (usb)".
	Name string
	// Removable devices are preferred by the selection state machine.
	Removable bool
	// Timeout is this device's contribution to the aggregated countdown.
	Timeout int
	// Mounts maps partition device paths to their mountpoints.
	Mounts map[string]string
	// Entries is this device's ordered boot catalog.
	Entries []Entry
	// DefaultIndex names the default entry; 0 if unspecified.
	DefaultIndex int
	// DiskSeq is the kernel-reported diskseq used to name this device's
	// mountpoint, when available.
	DiskSeq string
}

// DefaultEntry returns the entry the state machine boots absent any operator
// input: the configured default index, clamped into range.
func (d Device) DefaultEntry() (Entry, bool) {
	if len(d.Entries) == 0 {
		return Entry{}, false
	}
	idx := d.DefaultIndex
	if idx < 0 || idx >= len(d.Entries) {
		idx = 0
	}
	return d.Entries[idx], true
}

// SortDevices orders devices removable-first, stable otherwise so that
// insertion order (arrival order) is preserved among ties.
func SortDevices(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Removable && !devices[j].Removable
	})
}

// SortEntries orders BLS-style entries by (version, title, name) descending,
// a plain lexicographic comparison that coincides with "newest first" on
// identifiers like "Generation 118 ... Linux Kernel 6.1.27".
func SortEntries(entries []Entry, version, title, name func(Entry) string) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if v := strings.Compare(version(a), version(b)); v != 0 {
			return v > 0
		}
		if t := strings.Compare(title(a), title(b)); t != 0 {
			return t > 0
		}
		return strings.Compare(name(a), name(b)) > 0
	})
}
