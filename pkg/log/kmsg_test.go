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

package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	logrus "github.com/sirupsen/logrus"
)

func TestPrintkLevel(t *testing.T) {
	cases := []struct {
		level logrus.Level
		want  int
	}{
		{logrus.PanicLevel, 2},
		{logrus.FatalLevel, 2},
		{logrus.ErrorLevel, 3},
		{logrus.WarnLevel, 4},
		{logrus.InfoLevel, 6},
		{logrus.DebugLevel, 7},
		{logrus.TraceLevel, 7},
	}
	for _, c := range cases {
		if got := printkLevel(c.level); got != c.want {
			t.Errorf("printkLevel(%v) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestKmsgHookFireWritesFormattedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmsg")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("creating fake kmsg file: %v", err)
	}

	hook, err := NewKmsgHook("tbootd", path)
	if err != nil {
		t.Fatalf("NewKmsgHook: %v", err)
	}
	defer hook.Close()

	entry := &logrus.Entry{Level: logrus.ErrorLevel, Message: "mount failed"}
	if err := hook.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fake kmsg file: %v", err)
	}
	want := "<3>tbootd[error]: mount failed\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}
}

func TestKmsgHookLevelsCoversEverything(t *testing.T) {
	hook := &KmsgHook{}
	got := hook.Levels()
	if !containsLevel(got, logrus.InfoLevel) || !containsLevel(got, logrus.TraceLevel) {
		t.Errorf("Levels() = %v, want it to include Info and Trace", got)
	}
}

func containsLevel(levels []logrus.Level, target logrus.Level) bool {
	for _, l := range levels {
		if l == target {
			return true
		}
	}
	return false
}

func TestNewKmsgHookFailsOnMissingPath(t *testing.T) {
	_, err := NewKmsgHook("tbootd", filepath.Join(t.TempDir(), "does-not-exist", "kmsg"))
	if err == nil {
		t.Fatal("expected an error opening a nonexistent path")
	}
	if !strings.Contains(err.Error(), "opening") {
		t.Errorf("got error %q, want it to mention opening the path", err)
	}
}
