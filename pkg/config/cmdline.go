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

import "strings"

// cmdlinePrefix is the kernel command-line token prefix kexecboot reserves
// for its own configuration, e.g. "tboot.loglevel=debug tboot.tty=ttyS0".
const cmdlinePrefix = "tboot."

// ParseCmdlineTokens folds every cmdlinePrefix-prefixed token in contents
// (the raw text of /proc/cmdline) into a map from key to every value seen
// for that key, in order of appearance; a token repeated multiple times
// (the kernel permits this) keeps every occurrence rather than only the
// last. Tokens with no '=' (bare flags) are ignored, since every tboot.*
// token kexecboot recognizes takes a value.
func ParseCmdlineTokens(contents string) map[string][]string {
	tokens := make(map[string][]string)
	for _, field := range strings.Fields(contents) {
		rest, ok := strings.CutPrefix(field, cmdlinePrefix)
		if !ok {
			continue
		}
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		tokens[key] = append(tokens[key], value)
	}
	return tokens
}

// FirstToken returns the first occurrence of key in tokens, folding
// multiple occurrences down to the one the kernel would have processed
// first, matching the original loader's "first value wins" behavior.
func FirstToken(tokens map[string][]string, key string) (string, bool) {
	values, ok := tokens[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}
