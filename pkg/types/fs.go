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

package types

import (
	"io/fs"
	"os"
)

// FS is the subset of filesystem operations the boot engine needs. The
// production implementation, OSFS, calls the os package directly; tests
// substitute fakes or fixture filesystems rooted in a temp directory through
// the same interface.
type FS interface {
	Open(name string) (*os.File, error)
	OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error)
	Create(name string) (*os.File, error)
	Mkdir(name string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Lstat(name string) (os.FileInfo, error)
	RemoveAll(path string) error
	Remove(name string) error
	Rename(oldname, newname string) error
	ReadFile(filename string) ([]byte, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadDir(dirname string) ([]os.DirEntry, error)
	Readlink(name string) (string, error)
	Symlink(oldname, newname string) error
}

// OSFS is the production FS backed directly by the host filesystem.
type OSFS struct{}

func (OSFS) Open(name string) (*os.File, error) { return os.Open(name) }
func (OSFS) OpenFile(name string, flag int, perm fs.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}
func (OSFS) Create(name string) (*os.File, error)         { return os.Create(name) }
func (OSFS) Mkdir(name string, perm os.FileMode) error    { return os.Mkdir(name, perm) }
func (OSFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (OSFS) Lstat(name string) (os.FileInfo, error)       { return os.Lstat(name) }
func (OSFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (OSFS) Remove(name string) error                     { return os.Remove(name) }
func (OSFS) Rename(oldname, newname string) error         { return os.Rename(oldname, newname) }
func (OSFS) ReadFile(filename string) ([]byte, error)     { return os.ReadFile(filename) }
func (OSFS) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}
func (OSFS) ReadDir(dirname string) ([]os.DirEntry, error) { return os.ReadDir(dirname) }
func (OSFS) Readlink(name string) (string, error)          { return os.Readlink(name) }
func (OSFS) Symlink(oldname, newname string) error          { return os.Symlink(oldname, newname) }

var _ FS = OSFS{}
