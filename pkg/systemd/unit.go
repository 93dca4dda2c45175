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

// Package systemd installs the tboot-bless-boot oneshot unit and wants it
// into a generator-selected target.
package systemd

import (
	"path/filepath"

	"github.com/kexecboot/kexecboot/pkg/types"
)

// Unit is a systemd unit file to be installed verbatim.
type Unit struct {
	Name    string
	Content []byte
}

func NewUnit(name string, content []byte) *Unit {
	return &Unit{
		Name:    name,
		Content: content,
	}
}

// systemUnitDir is where a persistent (non-generated) unit file lives.
const systemUnitDir = "/etc/systemd/system"

// Install writes unit's content to its permanent home under
// /etc/systemd/system, from where generator-created symlinks (see Want)
// reference it by absolute path.
func Install(fs types.FS, unit *Unit) error {
	return fs.WriteFile(filepath.Join(systemUnitDir, unit.Name), unit.Content, 0o644)
}

// Want symlinks unit into target+".wants" under generatorDir, the
// mechanism a systemd generator uses to pull a unit into a boot target
// without administering "systemctl enable" (a generator runs before
// systemd's own control socket exists, so it manipulates unit directories
// directly instead), mirroring
// original_source/tboot-bless-boot-generator/src/main.rs's
// early_dir.join("basic.target.wants").join(unit_name).
func Want(fs types.FS, generatorDir, target, unitName string) error {
	wantsDir := filepath.Join(generatorDir, target+".wants")
	if err := fs.MkdirAll(wantsDir, 0o755); err != nil {
		return err
	}
	link := filepath.Join(wantsDir, unitName)
	_ = fs.Remove(link)
	return fs.Symlink(filepath.Join(systemUnitDir, unitName), link)
}
