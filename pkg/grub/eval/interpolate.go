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

import "strings"

func isNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Interpolate expands $NAME, ${NAME} and $(NAME) references against env. A
// name is an ASCII-alphanumeric run; a missing name expands to empty. Text
// with no '$' is returned unchanged.
func Interpolate(env Environment, s string) string {
	if !strings.ContainsRune(s, '$') {
		return s
	}
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '$' || i+1 >= len(runes) {
			b.WriteRune(c)
			continue
		}
		switch runes[i+1] {
		case '{':
			end := i + 2
			for end < len(runes) && runes[end] != '}' {
				end++
			}
			name := string(runes[i+2 : end])
			b.WriteString(env[name])
			if end < len(runes) {
				end++
			}
			i = end - 1
		case '(':
			end := i + 2
			for end < len(runes) && runes[end] != ')' {
				end++
			}
			name := string(runes[i+2 : end])
			b.WriteString(env[name])
			if end < len(runes) {
				end++
			}
			i = end - 1
		default:
			end := i + 1
			for end < len(runes) && isNameRune(runes[end]) {
				end++
			}
			name := string(runes[i+1 : end])
			b.WriteString(env[name])
			i = end - 1
		}
	}
	return b.String()
}
