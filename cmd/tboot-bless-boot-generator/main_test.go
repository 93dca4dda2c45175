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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kexecboot/kexecboot/pkg/types"
)

func TestRunCreatesWantSymlinkWhenBlsEntryPresent(t *testing.T) {
	root := t.TempDir()
	fs := chrootFS{root: root, cmdline: "console=ttyS0 tboot.bls-entry=nixos ro"}

	if err := run([]string{"/run/systemd/system", "/run/systemd/generator.early", "/run/systemd/generator.late"}, fs); err != nil {
		t.Fatalf("run: %v", err)
	}

	link := filepath.Join(root, "/run/systemd/generator.early", "basic.target.wants", unitName)
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("expected want-symlink at %s: %v", link, err)
	}
	if _, err := os.Stat(filepath.Join(root, "/etc/systemd/system", unitName)); err != nil {
		t.Fatalf("expected unit file installed: %v", err)
	}
}

func TestRunSkipsWithoutBlsEntryToken(t *testing.T) {
	root := t.TempDir()
	fs := chrootFS{root: root, cmdline: "console=ttyS0 ro"}

	if err := run([]string{"/run/systemd/system", "/run/systemd/generator.early", "/run/systemd/generator.late"}, fs); err != nil {
		t.Fatalf("run: %v", err)
	}

	link := filepath.Join(root, "/run/systemd/generator.early", "basic.target.wants", unitName)
	if _, err := os.Lstat(link); err == nil {
		t.Errorf("expected no want-symlink without tboot.bls-entry")
	}
}

func TestRunSkipsInInitrd(t *testing.T) {
	t.Setenv("SYSTEMD_IN_INITRD", "1")
	root := t.TempDir()
	fs := chrootFS{root: root, cmdline: "tboot.bls-entry=nixos"}

	if err := run([]string{"/run/systemd/system", "/run/systemd/generator.early", "/run/systemd/generator.late"}, fs); err != nil {
		t.Fatalf("run: %v", err)
	}

	link := filepath.Join(root, "/run/systemd/generator.early", "basic.target.wants", unitName)
	if _, err := os.Lstat(link); err == nil {
		t.Errorf("expected no want-symlink when SYSTEMD_IN_INITRD=1")
	}
}

// chrootFS mirrors pkg/systemd's own test fixture: every write rebases
// under root, and ReadFile is overridden just for /proc/cmdline so tests
// never depend on the real kernel command line.
type chrootFS struct {
	types.OSFS
	root    string
	cmdline string
}

func (f chrootFS) ReadFile(name string) ([]byte, error) {
	if name == "/proc/cmdline" {
		return []byte(f.cmdline), nil
	}
	return f.OSFS.ReadFile(name)
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
