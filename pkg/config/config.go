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

// Package config builds the daemon's and client's runtime configuration
// from, in increasing precedence: compiled-in defaults, a YAML config file
// found under a config directory, environment variables prefixed
// KEXECBOOT_, CLI flags, and finally tboot.* tokens on /proc/cmdline
// (highest precedence, since that is how an operator overrides behavior
// for a single boot without touching any on-disk config).
package config

import (
	"strings"

	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kexecboot/kexecboot/pkg/ipc"
)

// Config holds every daemon/client tunable. Fields are exported so viper
// can unmarshal into them directly, matching the teacher's v1.BuildConfig/
// v1.RunConfig usage.
type Config struct {
	LogLevel            string `mapstructure:"loglevel"`
	TTY                 string `mapstructure:"tty"`
	SocketPath          string `mapstructure:"socket-path"`
	VerificationKeyPath string `mapstructure:"verification-key"`
	BLSEntry            string `mapstructure:"bls-entry"`
}

// defaults mirrors the original loader's Config::default(): info-level
// logging, the primary VT, and kexecboot's own socket/key paths.
func defaults() Config {
	return Config{
		LogLevel:            "info",
		TTY:                 "tty1",
		SocketPath:          ipc.DefaultSocketPath,
		VerificationKeyPath: "/etc/keys/x509_ima.der",
	}
}

// ParsedLogLevel converts LogLevel to a logrus.Level, falling back to Info
// for an empty or unrecognized value rather than failing outright, since a
// bad loglevel token should never keep the daemon from booting.
func (c Config) ParsedLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Load builds a Config from compiled-in defaults, an optional
// configDir/config.yaml, KEXECBOOT_-prefixed environment variables, and
// flags, in that order of increasing precedence. It does not consult
// /proc/cmdline; call FoldCmdline afterward for that.
func Load(v *viper.Viper, flags *pflag.FlagSet, configDir string) (*Config, error) {
	cfg := defaults()

	if configDir != "" {
		v.AddConfigPath(configDir)
		v.SetConfigType("yaml")
		v.SetConfigName("config")
		if err := v.MergeInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix("KEXECBOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FoldCmdline applies tboot.* tokens parsed from /proc/cmdline onto cfg,
// overriding anything Load set: a per-boot kernel command-line token is
// the most specific override available and always wins.
func FoldCmdline(cfg *Config, cmdlineContents string) {
	tokens := ParseCmdlineTokens(cmdlineContents)
	if v, ok := FirstToken(tokens, "loglevel"); ok {
		cfg.LogLevel = v
	}
	if v, ok := FirstToken(tokens, "tty"); ok {
		cfg.TTY = v
	}
	if v, ok := FirstToken(tokens, "socket-path"); ok {
		cfg.SocketPath = v
	}
	if v, ok := FirstToken(tokens, "bls-entry"); ok {
		cfg.BLSEntry = v
	}
}
