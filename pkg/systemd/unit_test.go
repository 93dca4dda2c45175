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

package systemd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kexecboot/kexecboot/pkg/types"
)

func TestInstallWritesUnitFile(t *testing.T) {
	root := t.TempDir()
	fs := chrootFS{root: root}

	unit := NewUnit("tboot-bless-boot.service", []byte("[Unit]\n"))
	if err := Install(fs, unit); err != nil {
		t.Fatalf("Install: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, systemUnitDir, "tboot-bless-boot.service"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[Unit]\n" {
		t.Errorf("got %q", data)
	}
}

func TestWantSymlinksIntoWantsDirectory(t *testing.T) {
	root := t.TempDir()
	fs := chrootFS{root: root}

	if err := Want(fs, "/run/systemd/generator", "basic.target", "tboot-bless-boot.service"); err != nil {
		t.Fatalf("Want: %v", err)
	}

	link := filepath.Join(root, "/run/systemd/generator", "basic.target.wants", "tboot-bless-boot.service")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != filepath.Join(systemUnitDir, "tboot-bless-boot.service") {
		t.Errorf("got symlink target %q", target)
	}
}

func TestWantIsIdempotent(t *testing.T) {
	root := t.TempDir()
	fs := chrootFS{root: root}

	for i := 0; i < 2; i++ {
		if err := Want(fs, "/run/systemd/generator", "basic.target", "tboot-bless-boot.service"); err != nil {
			t.Fatalf("Want (pass %d): %v", i, err)
		}
	}
}

// chrootFS rebases every path under root, so tests never touch the real
// /etc/systemd/system.
type chrootFS struct {
	types.OSFS
	root string
}

func (f chrootFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	p := filepath.Join(f.root, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, perm)
}

func (f chrootFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Join(f.root, path), perm)
}

func (f chrootFS) Remove(name string) error {
	return os.Remove(filepath.Join(f.root, name))
}

func (f chrootFS) Symlink(oldname, newname string) error {
	return os.Symlink(oldname, filepath.Join(f.root, newname))
}
