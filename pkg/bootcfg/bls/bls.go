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

// Package bls parses a systemd Boot Loader Specification catalog:
// loader/loader.conf plus loader/entries/*.conf, and implements the BLS
// boot-counter convention used to mark an attempt good or bad.
// https://uapi-group.org/specifications/specs/boot_loader_specification/
package bls

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

const entriesDir = "loader/entries"

// entry mirrors one loader/entries/*.conf file before it is resolved into a
// bootctl.Entry; the fields beyond what bootctl.Entry carries are kept only
// long enough to sort and to build the pretty label.
type entry struct {
	name       string
	title      string
	version    string
	sortKey    string
	linux      string
	initrd     []string
	options    []string
	devicetree string
	hasEFI     bool
}

// Catalog is a parsed loader.conf plus its resolved, sorted entries.
type Catalog struct {
	Timeout      int
	DefaultName  string
	Entries      []bootctl.Entry
	DefaultIndex int
}

// Parse reads loader/loader.conf and loader/entries/*.conf under mountpoint
// and returns the resolved catalog. A missing loader.conf is tolerated (the
// BLS spec treats it as optional); a missing entries directory is not.
func Parse(fs types.FS, mountpoint string) (Catalog, error) {
	cat := Catalog{Timeout: -1}

	if data, err := fs.ReadFile(path.Join(mountpoint, "loader/loader.conf")); err == nil {
		cat.Timeout, cat.DefaultName = parseLoaderConf(string(data))
	}

	dirents, err := fs.ReadDir(path.Join(mountpoint, entriesDir))
	if err != nil {
		return Catalog{}, bootctl.Wrap(bootctl.KindBootConfigNotFound, "reading loader/entries", err)
	}

	var parsed []entry
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".conf") {
			continue
		}
		data, err := fs.ReadFile(path.Join(mountpoint, entriesDir, name))
		if err != nil {
			continue
		}
		e := parseEntryConf(strings.TrimSuffix(name, ".conf"), string(data))
		if e.hasEFI {
			// Not executable from a running kernel.
			continue
		}
		parsed = append(parsed, e)
	}

	sortEntries(parsed)

	cat.Entries = make([]bootctl.Entry, len(parsed))
	for i, e := range parsed {
		cat.Entries[i] = e.resolve(mountpoint)
		if e.name == cat.DefaultName {
			cat.DefaultIndex = i
			cat.Entries[i].Default = true
		}
	}
	return cat, nil
}

func parseLoaderConf(data string) (timeout int, defaultName string) {
	timeout = -1
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}
		switch key {
		case "timeout":
			if secs, err := strconv.Atoi(value); err == nil {
				timeout = secs
			}
		case "default":
			defaultName = strings.TrimSuffix(value, ".conf")
		}
	}
	return timeout, defaultName
}

func parseEntryConf(name, data string) entry {
	e := entry{name: name}
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}
		switch key {
		case "title":
			e.title = value
		case "version":
			e.version = value
		case "sort-key":
			e.sortKey = value
		case "linux":
			e.linux = value
		case "initrd":
			e.initrd = append(e.initrd, strings.Fields(value)...)
		case "options":
			e.options = append(e.options, value)
		case "devicetree", "devicetree-overlay":
			if e.devicetree == "" {
				e.devicetree = value
			}
		case "efi":
			e.hasEFI = true
		}
	}
	return e
}

// splitDirective splits a BLS config line into its key and the remainder of
// the line, trimmed. Blank lines and comments yield ok == false.
func splitDirective(line string) (key, value string, ok bool) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(trimmed, " ")
	if !found {
		return trimmed, "", true
	}
	return key, strings.TrimSpace(value), true
}

// effectiveSortKey picks the field BLS entries are primarily sorted on: sort-key when
// present, otherwise the entry's version string, matching systemd-boot.
func (e entry) effectiveSortKey() string {
	if e.sortKey != "" {
		return e.sortKey
	}
	return e.version
}

// sortEntries orders entries by (sort-key-or-version, title, name),
// descending, so "newest first" falls out of a plain lexicographic compare
// on identifiers like "Generation 118 ... Linux Kernel 6.1.27".
func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if v := strings.Compare(a.effectiveSortKey(), b.effectiveSortKey()); v != 0 {
			return v > 0
		}
		if t := strings.Compare(a.title, b.title); t != 0 {
			return t > 0
		}
		return strings.Compare(a.name, b.name) > 0
	})
}

// resolvePath reinterprets a BLS path as relative to mountpoint by stripping
// a leading separator, per SPEC_FULL.md §4.4.
func resolvePath(mountpoint, p string) string {
	if p == "" {
		return ""
	}
	return path.Join(mountpoint, strings.TrimPrefix(p, "/"))
}

func (e entry) resolve(mountpoint string) bootctl.Entry {
	label := e.name
	switch {
	case e.title != "" && e.version != "":
		label = e.title + " " + e.version
	case e.title != "":
		label = e.title
	}

	var initrd string
	if len(e.initrd) > 0 {
		initrd = resolvePath(mountpoint, e.initrd[0])
	}

	return bootctl.Entry{
		Label:      label,
		Kernel:     resolvePath(mountpoint, e.linux),
		Initrd:     initrd,
		Cmdline:    strings.Join(e.options, " "),
		Devicetree: resolvePath(mountpoint, e.devicetree),
		ID:         e.name,
	}
}
