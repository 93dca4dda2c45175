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

import "testing"

func TestParseCmdlineTokens(t *testing.T) {
	cmdline := "BOOT_IMAGE=/vmlinuz root=UUID=abc-123 tboot.loglevel=debug tboot.tty=ttyS0 quiet tboot.bls-entry=5"
	tokens := ParseCmdlineTokens(cmdline)

	if v, ok := FirstToken(tokens, "loglevel"); !ok || v != "debug" {
		t.Errorf("loglevel = %q, %v; want debug, true", v, ok)
	}
	if v, ok := FirstToken(tokens, "tty"); !ok || v != "ttyS0" {
		t.Errorf("tty = %q, %v; want ttyS0, true", v, ok)
	}
	if v, ok := FirstToken(tokens, "bls-entry"); !ok || v != "5" {
		t.Errorf("bls-entry = %q, %v; want 5, true", v, ok)
	}
	if _, ok := FirstToken(tokens, "programmer"); ok {
		t.Errorf("programmer should be absent")
	}
}

func TestParseCmdlineTokensIgnoresBareFlagsAndForeignPrefixes(t *testing.T) {
	tokens := ParseCmdlineTokens("quiet splash tboot.debug other.tboot.loglevel=warn")
	if len(tokens) != 0 {
		t.Errorf("got %v, want no tokens (bare flag and non tboot.-prefixed tokens must be ignored)", tokens)
	}
}

func TestParseCmdlineTokensKeepsRepeatedOccurrences(t *testing.T) {
	tokens := ParseCmdlineTokens("tboot.tty=ttyS0 tboot.tty=ttyS1")
	if len(tokens["tty"]) != 2 {
		t.Fatalf("got %v, want two occurrences of tty", tokens["tty"])
	}
	if v, _ := FirstToken(tokens, "tty"); v != "ttyS0" {
		t.Errorf("FirstToken should return the first occurrence, got %q", v)
	}
}
