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

package diskinfo

import (
	"errors"
	"os"
	"testing"

	"github.com/kexecboot/kexecboot/pkg/types"
)

type fakeDirEntry struct{ name string }

func (e fakeDirEntry) Name() string               { return e.name }
func (e fakeDirEntry) IsDir() bool                { return false }
func (e fakeDirEntry) Type() os.FileMode          { return 0 }
func (e fakeDirEntry) Info() (os.FileInfo, error) { return nil, nil }

type fakeFS struct {
	types.FS
	files    map[string][]byte
	links    map[string]string
	children []string
}

func (f fakeFS) ReadFile(name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, errors.New("no such file: " + name)
	}
	return data, nil
}

func (f fakeFS) Readlink(name string) (string, error) {
	target, ok := f.links[name]
	if !ok {
		return "", errors.New("no such link: " + name)
	}
	return target, nil
}

func (f fakeFS) ReadDir(dirname string) ([]os.DirEntry, error) {
	if dirname != sysClassBlock {
		return nil, errors.New("unexpected dir: " + dirname)
	}
	entries := make([]os.DirEntry, len(f.children))
	for i, name := range f.children {
		entries[i] = fakeDirEntry{name: name}
	}
	return entries, nil
}

func TestDescribeReadsVendorModelAndSubsystem(t *testing.T) {
	fs := fakeFS{
		files: map[string][]byte{
			"/sys/class/block/sda/device/vendor": []byte("Kingston \n"),
			"/sys/class/block/sda/device/model":  []byte("DataTraveler \n"),
			"/sys/class/block/sda/removable":     []byte("1\n"),
		},
		links: map[string]string{
			"/sys/class/block/sda/device/subsystem": "../../../../bus/usb",
		},
		children: []string{"sda", "sda1", "sda2", "sdb1"},
	}
	fs.files["/sys/class/block/sda1/uevent"] = []byte("DEVTYPE=partition\nDEVNAME=sda1\n")
	fs.files["/sys/class/block/sda2/uevent"] = []byte("DEVTYPE=partition\nDEVNAME=sda2\n")
	fs.files["/sys/class/block/sdb1/uevent"] = []byte("DEVTYPE=partition\nDEVNAME=sdb1\n")

	disk := Describe(fs, "sda")

	if disk.Name != "Kingston DataTraveler (usb)" {
		t.Errorf("got name %q", disk.Name)
	}
	if !disk.Removable {
		t.Errorf("expected removable")
	}
	if len(disk.Partitions) != 2 || disk.Partitions[0] != "/dev/sda1" || disk.Partitions[1] != "/dev/sda2" {
		t.Errorf("got partitions %v, want [/dev/sda1 /dev/sda2]", disk.Partitions)
	}
}

func TestDescribeDefaultsToRemovableAndUnknownOnMissingAttributes(t *testing.T) {
	fs := fakeFS{files: map[string][]byte{}, links: map[string]string{}}

	disk := Describe(fs, "nvme0n1")

	if disk.Name != "Unknown Unknown (unknown)" {
		t.Errorf("got name %q", disk.Name)
	}
	if !disk.Removable {
		t.Errorf("expected fail-safe removable=true when the attribute is unreadable")
	}
	if disk.Partitions != nil {
		t.Errorf("got partitions %v, want none", disk.Partitions)
	}
}

func TestDescribeNonRemovable(t *testing.T) {
	fs := fakeFS{
		files: map[string][]byte{
			"/sys/class/block/sda/removable": []byte("0\n"),
		},
	}

	disk := Describe(fs, "sda")
	if disk.Removable {
		t.Errorf("expected non-removable")
	}
}
