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
	"testing"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

func intp(v int) *int { return &v }

func TestParseFilename(t *testing.T) {
	cases := []struct {
		filename string
		want     Counter
		wantErr  bool
	}{
		{"my-entry.conf", Counter{Name: "my-entry"}, false},
		{"my-entry+1.conf", Counter{Name: "my-entry", Done: intp(1)}, false},
		{"my-entry+0-3.conf", Counter{Name: "my-entry", Done: intp(0), Left: intp(3)}, false},
		{"my-entry-1+5-0.conf", Counter{Name: "my-entry-1", Done: intp(5), Left: intp(0)}, false},
		{"my-entry+foo.conf", Counter{}, true},
		{"my-entry", Counter{}, true},
	}

	for _, c := range cases {
		got, err := ParseFilename(c.filename)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseFilename(%q): expected error, got none", c.filename)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseFilename(%q): unexpected error: %v", c.filename, err)
		}
		if got.Name != c.want.Name || !intEq(got.Done, c.want.Done) || !intEq(got.Left, c.want.Left) {
			t.Errorf("ParseFilename(%q) = %+v, want %+v", c.filename, got, c.want)
		}
	}
}

func intEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type fakeFS struct {
	types.FS
	renamed [][2]string
}

func (f *fakeFS) Rename(oldname, newname string) error {
	f.renamed = append(f.renamed, [2]string{oldname, newname})
	return nil
}

func TestMarkGoodClearsCounter(t *testing.T) {
	fs := &fakeFS{}
	if err := MarkGood(fs, "/loader/entries", "my-entry+0-3.conf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.renamed) != 1 {
		t.Fatalf("expected one rename, got %d", len(fs.renamed))
	}
	if fs.renamed[0][1] != "/loader/entries/my-entry.conf" {
		t.Errorf("unexpected rename target: %v", fs.renamed[0])
	}
}

func TestMarkGoodIsNoopWithoutLeft(t *testing.T) {
	fs := &fakeFS{}
	if err := MarkGood(fs, "/loader/entries", "my-entry.conf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.renamed) != 0 {
		t.Fatalf("expected no rename, got %v", fs.renamed)
	}
}

func TestMarkBadPreservesDoneAsLeft(t *testing.T) {
	fs := &fakeFS{}
	if err := MarkBad(fs, "/loader/entries", "my-entry+2.conf"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.renamed[0][1] != "/loader/entries/my-entry+0-2.conf" {
		t.Errorf("unexpected rename target: %v", fs.renamed[0])
	}
}

func TestMarkBadRejectsInvalidSyntax(t *testing.T) {
	fs := &fakeFS{}
	err := MarkBad(fs, "/loader/entries", "my-entry+foo.conf")
	if err == nil {
		t.Fatal("expected error")
	}
	if bootctl.KindOf(err) != bootctl.KindInvalidEntry {
		t.Errorf("unexpected kind: %v", bootctl.KindOf(err))
	}
}
