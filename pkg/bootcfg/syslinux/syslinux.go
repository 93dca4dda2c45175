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

// Package syslinux parses SYSLINUX/EXTLINUX configuration files: a flat,
// case-insensitive, line-oriented directive language with an INCLUDE
// preprocessor pass.
package syslinux

import (
	"path"
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// searchPaths is tried in order, relative to the mountpoint; the first
// existing file wins.
var searchPaths = []string{
	"boot/extlinux/extlinux.conf",
	"extlinux/extlinux.conf",
	"extlinux.conf",
	"boot/syslinux/extlinux.conf",
	"boot/syslinux/syslinux.cfg",
	"syslinux/extlinux.conf",
	"syslinux/syslinux.cfg",
	"syslinux.cfg",
}

// Catalog is a parsed SYSLINUX configuration: a timeout in whole seconds
// (TIMEOUT is specified in tenths of a second) and its LABEL entries.
type Catalog struct {
	Timeout int
	Entries []bootctl.Entry
}

// Locate finds the first recognized SYSLINUX configuration file under
// mountpoint, or KindBootConfigNotFound if none exists.
func Locate(fs types.FS, mountpoint string) (string, error) {
	for _, candidate := range searchPaths {
		p := path.Join(mountpoint, candidate)
		if _, err := fs.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", bootctl.New(bootctl.KindBootConfigNotFound, "no SYSLINUX configuration found")
}

// Parse locates and parses a mountpoint's SYSLINUX configuration, expanding
// INCLUDE directives first. Kernel, initrd and FDT paths are resolved
// relative to the directory holding the main configuration file, including
// paths named inside INCLUDE targets.
func Parse(fs types.FS, mountpoint string) (Catalog, error) {
	confPath, err := Locate(fs, mountpoint)
	if err != nil {
		return Catalog{}, err
	}

	data, err := fs.ReadFile(confPath)
	if err != nil {
		return Catalog{}, bootctl.Wrap(bootctl.KindIoError, "reading SYSLINUX configuration", err)
	}

	root := path.Dir(confPath)
	expanded, err := expandIncludes(fs, string(data), root)
	if err != nil {
		return Catalog{}, err
	}

	timeout, entries := parseSource(expanded, root)
	return Catalog{Timeout: timeout, Entries: entries}, nil
}

// expandIncludes splices the contents of every INCLUDE target inline,
// non-recursively — a single pass, matching the source.
func expandIncludes(fs types.FS, source, root string) (string, error) {
	var out strings.Builder
	for _, line := range strings.Split(source, "\n") {
		rest, ok := cutDirective(line, "INCLUDE")
		if !ok {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		data, err := fs.ReadFile(path.Join(root, strings.TrimSpace(rest)))
		if err != nil {
			return "", bootctl.Wrap(bootctl.KindInvalidCatalog, "resolving INCLUDE", err)
		}
		out.Write(data)
		out.WriteByte('\n')
	}
	return out.String(), nil
}

// cutDirective reports whether line begins with directive, case-insensitive,
// and returns the remainder after the directive and its separating space.
func cutDirective(line, directive string) (rest string, ok bool) {
	if len(line) < len(directive) || !strings.EqualFold(line[:len(directive)], directive) {
		return "", false
	}
	rest = line[len(directive):]
	if rest == "" {
		return "", true
	}
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return rest[1:], true
}

// indirectedEntry is a LABEL block accumulator before path resolution.
type indirectedEntry struct {
	name    string
	kernel  string
	initrd  string
	cmdline string
	dtb     string
	isDefault bool
}

func parseSource(source, root string) (timeoutSeconds int, entries []bootctl.Entry) {
	timeoutSeconds = 5
	var (
		defaultLabel string
		accum        []indirectedEntry
		cur          indirectedEntry
		inEntry      bool
		haveEntry    bool
	)

	flush := func() {
		if haveEntry {
			accum = append(accum, cur)
		}
	}

	for _, line := range strings.Split(source, "\n") {
		if !inEntry {
			if rest, ok := cutDirective(line, "TIMEOUT"); ok {
				if tenths, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
					timeoutSeconds = tenthsToSeconds(tenths)
				}
				continue
			}
			if rest, ok := cutDirective(line, "DEFAULT"); ok {
				defaultLabel = strings.TrimSpace(rest)
				continue
			}
		}

		if rest, ok := cutDirective(line, "LABEL"); ok {
			flush()
			cur = indirectedEntry{name: strings.TrimSpace(rest)}
			cur.isDefault = cur.name == defaultLabel
			inEntry = true
			haveEntry = true
			continue
		}

		if !inEntry {
			continue
		}

		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case strings.TrimSpace(line) == "":
			inEntry = false
		default:
			if rest, ok := cutDirective(trimmed, "MENU LABEL"); ok {
				cur.name = strings.TrimSpace(rest)
			} else if rest, ok := cutDirective(trimmed, "LINUX"); ok {
				cur.kernel = path.Join(root, strings.TrimSpace(rest))
			} else if rest, ok := cutDirective(trimmed, "INITRD"); ok {
				cur.initrd = path.Join(root, strings.TrimSpace(rest))
			} else if rest, ok := cutDirective(trimmed, "APPEND"); ok {
				cur.cmdline = strings.TrimSpace(rest)
			} else if rest, ok := cutDirective(trimmed, "FDT"); ok {
				cur.dtb = path.Join(root, strings.TrimSpace(rest))
			}
		}
	}
	flush()

	entries = make([]bootctl.Entry, len(accum))
	for i, e := range accum {
		entries[i] = bootctl.Entry{
			Label:      e.name,
			Kernel:     e.kernel,
			Initrd:     e.initrd,
			Cmdline:    e.cmdline,
			Devicetree: e.dtb,
			Default:    e.isDefault,
			ID:         e.name,
		}
	}
	return timeoutSeconds, entries
}

// tenthsToSeconds converts a SYSLINUX TIMEOUT value (tenths of a second) to
// whole seconds; non-positive values mean "no timeout", rendered as zero.
func tenthsToSeconds(tenths int) int {
	if tenths <= 0 {
		return 0
	}
	return tenths / 10
}
