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

package bootcfg

import (
	"path"
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/grub/eval"
	"github.com/kexecboot/kexecboot/pkg/grub/parser"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// grubConfigPath is the only location a GRUB2 disk install is searched at;
// unlike SYSLINUX, GRUB does not offer a handful of legacy candidate paths.
const grubConfigPath = "boot/grub/grub.cfg"

// discoverGrub locates, lexes, parses and evaluates mountpoint's grub.cfg,
// then resolves every top-level menuentry (and one level of submenu, since
// Evaluator does not support nested submenus) into bootctl.Entry values in
// menu order. No disk search resolver is supplied, matching a minimal
// kexec-based loader's scope: "search" always fails in a grub.cfg evaluated
// this way, same as a nil DeviceResolver does for any other caller.
func discoverGrub(fs types.FS, mountpoint string) (Catalog, error) {
	confPath := path.Join(mountpoint, grubConfigPath)
	if _, err := fs.Stat(confPath); err != nil {
		return Catalog{}, bootctl.New(bootctl.KindBootConfigNotFound, "no GRUB configuration found")
	}

	data, err := fs.ReadFile(confPath)
	if err != nil {
		return Catalog{}, bootctl.Wrap(bootctl.KindIoError, "reading GRUB configuration", err)
	}

	root, err := parser.New(string(data)).Parse()
	if err != nil {
		return Catalog{}, bootctl.Wrap(bootctl.KindInvalidCatalog, "parsing GRUB configuration", err)
	}

	ev := eval.New(fs, nil)
	if err := ev.Eval(root); err != nil {
		return Catalog{}, bootctl.Wrap(bootctl.KindInvalidCatalog, "evaluating GRUB configuration", err)
	}

	menu := flattenMenu(ev.Menu)
	entries := make([]bootctl.Entry, 0, len(menu))
	for _, item := range menu {
		resolved, err := ev.ResolveEntry(item)
		if err != nil {
			if bootctl.KindOf(err) == bootctl.KindInvalidEntry {
				continue
			}
			return Catalog{}, err
		}
		entries = append(entries, resolveGrubPaths(mountpoint, resolved))
	}

	cat := Catalog{Timeout: -1, Entries: entries}
	env, err := ev.RootEnvironment()
	if err != nil {
		return cat, nil
	}
	if t, ok := env["timeout"]; ok {
		if seconds, err := strconv.Atoi(t); err == nil {
			cat.Timeout = seconds
		}
	}
	if d, ok := env["default"]; ok {
		if idx, err := strconv.Atoi(d); err == nil && idx >= 0 && idx < len(entries) {
			cat.DefaultIndex = idx
		} else {
			for i, item := range menu {
				if item.Title == d {
					cat.DefaultIndex = i
					break
				}
			}
		}
	}
	return cat, nil
}

// resolveGrubPaths reinterprets the paths an evaluated menuentry names as
// relative to mountpoint, matching the BLS and SYSLINUX parsers' own
// eager-absolute-path convention: a GRUB installer always writes paths as
// absolute from its own root device, which after kexec is reached through
// mountpoint rather than the bootloader's own root.
func resolveGrubPaths(mountpoint string, e bootctl.Entry) bootctl.Entry {
	e.Kernel = resolvePath(mountpoint, e.Kernel)
	e.Initrd = resolvePath(mountpoint, e.Initrd)
	e.Devicetree = resolvePath(mountpoint, e.Devicetree)
	return e
}

func resolvePath(mountpoint, p string) string {
	if p == "" {
		return ""
	}
	return path.Join(mountpoint, strings.TrimPrefix(p, "/"))
}

// flattenMenu walks top-level menu entries and one level of submenu,
// dropping submenu headers themselves (they carry no linux command of
// their own) and keeping the rest in menu order.
func flattenMenu(menu []eval.MenuEntry) []eval.MenuEntry {
	flat := make([]eval.MenuEntry, 0, len(menu))
	for _, item := range menu {
		if item.Submenu != nil {
			flat = append(flat, item.Submenu...)
			continue
		}
		flat = append(flat, item)
	}
	return flat
}
