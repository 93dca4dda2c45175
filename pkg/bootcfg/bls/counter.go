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

package bls

import (
	"path"
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// Counter is a parsed BLS boot-counter filename: NAME.conf, NAME+DONE.conf,
// or NAME+DONE-LEFT.conf.
// https://uapi-group.org/specifications/specs/boot_loader_specification/#boot-counting
type Counter struct {
	Name string
	Done *int
	Left *int
}

// ParseFilename splits a BLS entry filename into its name and boot-counter
// state. A missing .conf suffix or a non-decimal counter is an error.
func ParseFilename(filename string) (Counter, error) {
	stem, ok := strings.CutSuffix(filename, ".conf")
	if !ok {
		return Counter{}, bootctl.NewPath(bootctl.KindInvalidEntry, "missing .conf suffix", filename)
	}

	name, counterInfo, hasCounter := strings.Cut(stem, "+")
	if !hasCounter {
		return Counter{Name: stem}, nil
	}

	doneStr, leftStr, hasLeft := strings.Cut(counterInfo, "-")
	done, err := strconv.Atoi(doneStr)
	if err != nil {
		return Counter{}, bootctl.NewPath(bootctl.KindInvalidEntry, "invalid tries-done counter", filename)
	}
	c := Counter{Name: name, Done: &done}
	if !hasLeft {
		return c, nil
	}
	left, err := strconv.Atoi(leftStr)
	if err != nil {
		return Counter{}, bootctl.NewPath(bootctl.KindInvalidEntry, "invalid tries-left counter", filename)
	}
	c.Left = &left
	return c, nil
}

// Filename renders a Counter back to its on-disk BLS filename.
func (c Counter) Filename() string {
	if c.Done == nil {
		return c.Name + ".conf"
	}
	if c.Left == nil {
		return c.Name + "+" + strconv.Itoa(*c.Done) + ".conf"
	}
	return c.Name + "+" + strconv.Itoa(*c.Done) + "-" + strconv.Itoa(*c.Left) + ".conf"
}

// MarkGood renames an entry whose counter carries a tries-left value to its
// plain NAME.conf, the BLS convention for "this boot attempt succeeded, stop
// counting". A no-op when the entry was already plain.
func MarkGood(fs types.FS, dir, filename string) error {
	c, err := ParseFilename(filename)
	if err != nil {
		return err
	}
	if c.Left == nil {
		return nil
	}
	return renameWithin(fs, dir, filename, Counter{Name: c.Name}.Filename())
}

// MarkBad renames an entry to record a failed attempt: NAME+0.conf, or
// NAME+0-DONE.conf when a tries-done value already existed.
func MarkBad(fs types.FS, dir, filename string) error {
	c, err := ParseFilename(filename)
	if err != nil {
		return err
	}
	zero := 0
	bad := Counter{Name: c.Name, Done: &zero}
	if c.Done != nil {
		bad.Left = c.Done
	}
	return renameWithin(fs, dir, filename, bad.Filename())
}

func renameWithin(fs types.FS, dir, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	oldPath := path.Join(dir, oldName)
	newPath := path.Join(dir, newName)
	if err := fs.Rename(oldPath, newPath); err != nil {
		return bootctl.Wrap(bootctl.KindIoError, "renaming boot-counter entry", err)
	}
	return nil
}
