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

package eval

import "github.com/kexecboot/kexecboot/pkg/grub/ast"

// MenuOptions carries the flag arguments menuentry/submenu accept, per
// spec §4.7.
type MenuOptions struct {
	Class        string
	Users        string
	Hotkey       string
	ID           string
	Unrestricted bool
	Extra        []string
}

// MenuEntry is a constructed menuentry or submenu record: its block is kept
// unevaluated until the operator selects it (see ResolveEntry). A submenu
// carries nested MenuEntry records instead of a Block; nested submenus are
// not supported (the first nesting level's submenu commands, if any, are
// dropped).
type MenuEntry struct {
	Title   string
	Options MenuOptions
	Block   []ast.Statement
	Submenu []MenuEntry
}

// parseMenuEntry reads a menuentry/submenu command's arguments: an optional
// leading title, then flag pairs, then the trailing block.
func (ev *Evaluator) parseMenuEntry(cmd ast.Command) MenuEntry {
	var entry MenuEntry
	i := 0
	if i < len(cmd.Args) && cmd.Args[i].Kind != ast.ArgBlock {
		entry.Title = ev.argText(cmd.Args[i])
		i++
	}
	for i < len(cmd.Args) {
		arg := cmd.Args[i]
		if arg.Kind == ast.ArgBlock {
			entry.Block = arg.Block
			i++
			continue
		}
		text := ev.argText(arg)
		switch text {
		case "--class":
			i++
			if i < len(cmd.Args) {
				entry.Options.Class = ev.argText(cmd.Args[i])
				i++
			}
		case "--users":
			i++
			if i < len(cmd.Args) {
				entry.Options.Users = ev.argText(cmd.Args[i])
				i++
			}
		case "--hotkey":
			i++
			if i < len(cmd.Args) {
				entry.Options.Hotkey = ev.argText(cmd.Args[i])
				i++
			}
		case "--id":
			i++
			if i < len(cmd.Args) {
				entry.Options.ID = ev.argText(cmd.Args[i])
				i++
			}
		case "--unrestricted":
			entry.Options.Unrestricted = true
			i++
		default:
			entry.Options.Extra = append(entry.Options.Extra, text)
			i++
		}
	}
	return entry
}

// collectSubmenuEntries scans a submenu's block for nested menuentry
// commands, ignoring anything else (including a nested submenu, which this
// model does not support).
func (ev *Evaluator) collectSubmenuEntries(block []ast.Statement) []MenuEntry {
	var entries []MenuEntry
	for _, stmt := range block {
		cmd, ok := stmt.(ast.Command)
		if !ok || cmd.Name != "menuentry" {
			continue
		}
		entries = append(entries, ev.parseMenuEntry(cmd))
	}
	return entries
}
