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

package config

import (
	"os"
	"path/filepath"
	"testing"

	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), nil, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.TTY != "tty1" {
		t.Errorf("got %+v, want defaults", cfg)
	}
	if cfg.ParsedLogLevel() != logrus.InfoLevel {
		t.Errorf("ParsedLogLevel() = %v, want InfoLevel", cfg.ParsedLogLevel())
	}
}

func TestLoadMergesConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "tty: ttyS2\nloglevel: warn\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}

	cfg, err := Load(viper.New(), nil, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTY != "ttyS2" || cfg.LogLevel != "warn" {
		t.Errorf("got %+v, want tty=ttyS2 loglevel=warn from config file", cfg)
	}
}

func TestLoadMissingConfigDirIsNotAnError(t *testing.T) {
	if _, err := Load(viper.New(), nil, filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("Load should tolerate a missing config file, got: %v", err)
	}
}

func TestParsedLogLevelFallsBackOnGarbage(t *testing.T) {
	cfg := Config{LogLevel: "not-a-level"}
	if cfg.ParsedLogLevel() != logrus.InfoLevel {
		t.Errorf("got %v, want InfoLevel fallback", cfg.ParsedLogLevel())
	}
}

func TestFoldCmdlineOverridesLoadedConfig(t *testing.T) {
	cfg, err := Load(viper.New(), nil, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	FoldCmdline(cfg, "tboot.loglevel=debug tboot.bls-entry=3")

	if cfg.LogLevel != "debug" {
		t.Errorf("got loglevel %q, want debug", cfg.LogLevel)
	}
	if cfg.BLSEntry != "3" {
		t.Errorf("got bls-entry %q, want 3", cfg.BLSEntry)
	}
	if cfg.TTY != "tty1" {
		t.Errorf("tty should be untouched by cmdline, got %q", cfg.TTY)
	}
}
