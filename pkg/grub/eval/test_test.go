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

import (
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/kexecboot/kexecboot/pkg/types"
)

type fakeFileInfo struct {
	name  string
	size  int64
	dir   bool
	mtime time.Time
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeFileInfo) ModTime() time.Time { return f.mtime }
func (f fakeFileInfo) IsDir() bool        { return f.dir }
func (f fakeFileInfo) Sys() any           { return nil }

type statFS struct {
	types.FS
	entries map[string]fakeFileInfo
}

func (s statFS) Stat(name string) (os.FileInfo, error) {
	info, ok := s.entries[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

// TestEvalTestTruthTable reproduces spec §8 scenario 3 exactly.
func TestEvalTestTruthTable(t *testing.T) {
	fsys := statFS{entries: map[string]fakeFileInfo{
		"/dev": {name: "dev", dir: true},
	}}

	cases := []struct {
		args []string
		want int
	}{
		{[]string{"-d", "/dev"}, TestTrue},
		{[]string{"-f", "/dev"}, TestFalse},
		{[]string{"-n", "foo"}, TestTrue},
		{[]string{"-z", ""}, TestTrue},
		{[]string{"foo1", "-pgt", "bar0"}, TestTrue},
	}
	for _, c := range cases {
		if got := EvalTest(fsys, c.args); got != c.want {
			t.Errorf("EvalTest(%v) = %d, want %d", c.args, got, c.want)
		}
	}
}

func TestEvalTestStringAndIntCompare(t *testing.T) {
	fsys := statFS{entries: map[string]fakeFileInfo{}}
	cases := []struct {
		args []string
		want int
	}{
		{[]string{"foo", "=", "foo"}, TestTrue},
		{[]string{"foo", "!=", "bar"}, TestTrue},
		{[]string{"3", "-gt", "2"}, TestTrue},
		{[]string{"3", "-lt", "2"}, TestFalse},
		{[]string{"3", "-eq", "3"}, TestTrue},
		{[]string{"a", "-gt", "b"}, TestInvalid},
		{[]string{"1", "2", "3", "4"}, TestInvalid},
	}
	for _, c := range cases {
		if got := EvalTest(fsys, c.args); got != c.want {
			t.Errorf("EvalTest(%v) = %d, want %d", c.args, got, c.want)
		}
	}
}
