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
	"os"
	"path/filepath"
	"testing"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscoverPrefersBLSOverGrubAndSyslinux(t *testing.T) {
	mnt := t.TempDir()
	writeFile(t, filepath.Join(mnt, "loader/entries/1.conf"),
		"title Test\nversion 1\nlinux /vmlinuz\ninitrd /initrd\noptions root=/dev/sda1\n")
	writeFile(t, filepath.Join(mnt, "boot/grub/grub.cfg"), "set default=0\n")

	cat, err := Discover(types.OSFS{}, mnt)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cat.Entries) != 1 || cat.Entries[0].Kernel != filepath.Join(mnt, "vmlinuz") {
		t.Fatalf("expected the BLS entry to win, got %+v", cat)
	}
}

func TestDiscoverFallsBackToGrub(t *testing.T) {
	mnt := t.TempDir()
	writeFile(t, filepath.Join(mnt, "boot/grub/grub.cfg"),
		"set timeout=7\n"+
			"menuentry \"Linux\" {\n"+
			"  linux /vmlinuz root=/dev/sda2\n"+
			"  initrd /initrd.img\n"+
			"}\n"+
			"set default=0\n")

	cat, err := Discover(types.OSFS{}, mnt)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cat.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(cat.Entries))
	}
	entry := cat.Entries[0]
	if entry.Label != "Linux" || entry.Kernel != filepath.Join(mnt, "vmlinuz") || entry.Initrd != filepath.Join(mnt, "initrd.img") {
		t.Fatalf("got %+v", entry)
	}
	if entry.Cmdline != "root=/dev/sda2" {
		t.Fatalf("got cmdline %q", entry.Cmdline)
	}
	if cat.Timeout != 7 {
		t.Fatalf("got timeout %d, want 7", cat.Timeout)
	}
	if cat.DefaultIndex != 0 {
		t.Fatalf("got default index %d, want 0", cat.DefaultIndex)
	}
}

func TestDiscoverFallsBackToSyslinux(t *testing.T) {
	mnt := t.TempDir()
	writeFile(t, filepath.Join(mnt, "syslinux.cfg"),
		"TIMEOUT 50\n"+
			"LABEL linux\n"+
			"  LINUX /vmlinuz\n"+
			"  INITRD /initrd.img\n"+
			"  APPEND root=/dev/sda3\n")

	cat, err := Discover(types.OSFS{}, mnt)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cat.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(cat.Entries))
	}
	if cat.Timeout != 5 {
		t.Fatalf("got timeout %d, want 5 (50 tenths of a second)", cat.Timeout)
	}
}

func TestDiscoverReturnsBootConfigNotFoundWhenNothingMatches(t *testing.T) {
	mnt := t.TempDir()

	_, err := Discover(types.OSFS{}, mnt)
	if bootctl.KindOf(err) != bootctl.KindBootConfigNotFound {
		t.Fatalf("got %v, want KindBootConfigNotFound", err)
	}
}

func TestDiscoverPropagatesInvalidGrubCatalog(t *testing.T) {
	mnt := t.TempDir()
	writeFile(t, filepath.Join(mnt, "boot/grub/grub.cfg"), "if [ -z\n")

	_, err := Discover(types.OSFS{}, mnt)
	if bootctl.KindOf(err) != bootctl.KindInvalidCatalog {
		t.Fatalf("got %v, want KindInvalidCatalog", err)
	}
}
