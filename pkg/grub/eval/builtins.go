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
	"strings"
)

// Builtin implements one GRUB built-in command. It receives the current
// scope's effective environment (already including ancestors) and the
// interpolated argument list, and returns the scope's own bindings to
// overwrite with plus an exit code mirrored into $? and last_exit_code.
type Builtin func(ev *Evaluator, env Environment, args []string) (Environment, int)

// DeviceResolver answers the "search" built-in: given a search kind
// (file/label/fs-uuid) and a name, it names the device that satisfies it.
// A nil resolver makes every search fail (exit 1, destination var unset),
// which is the correct behavior for a configuration evaluated with no
// device catalog attached (e.g. in tests).
type DeviceResolver func(kind, name string) (device string, ok bool)

// builtins is the closed dispatch table. Every name in parser.commands that
// is not overridden here falls back to the success-no-op default, matching
// spec §4.7's "recognized but may return success without effect" clause.
var builtins = map[string]Builtin{
	"set":      builtinSet,
	"unset":    builtinUnset,
	"test":     builtinTest,
	"search":   builtinSearch,
	"linux":    builtinLinux,
	"linux16":  builtinLinux,
	"initrd":   builtinInitrd,
	"initrd16": builtinInitrd,
	"load_env": builtinLoadEnv,
	"save_env": builtinSaveEnv,
	"true":     builtinTrue,
	"false":    builtinFalse,
}

func noopSuccess(_ *Evaluator, env Environment, _ []string) (Environment, int) {
	return env, TestTrue
}

func builtinTrue(_ *Evaluator, env Environment, _ []string) (Environment, int) {
	return env, TestTrue
}

func builtinFalse(_ *Evaluator, env Environment, _ []string) (Environment, int) {
	return env, TestFalse
}

// builtinSet implements "set NAME=VALUE". With no '=' the whole argument is
// treated as a variable name set to the empty string.
func builtinSet(_ *Evaluator, env Environment, args []string) (Environment, int) {
	if len(args) == 0 {
		return env, TestInvalid
	}
	name, value, ok := strings.Cut(args[0], "=")
	if !ok {
		env[name] = ""
		return env, TestTrue
	}
	env[name] = value
	return env, TestTrue
}

func builtinUnset(_ *Evaluator, env Environment, args []string) (Environment, int) {
	if len(args) == 0 {
		return env, TestInvalid
	}
	delete(env, args[0])
	return env, TestTrue
}

func builtinTest(ev *Evaluator, env Environment, args []string) (Environment, int) {
	return env, EvalTest(ev.fs, args)
}

// builtinSearch implements "search --file|--label|--fs-uuid --set VAR NAME".
func builtinSearch(ev *Evaluator, env Environment, args []string) (Environment, int) {
	var kind, setVar, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--file":
			kind = "file"
		case "--label":
			kind = "label"
		case "--fs-uuid":
			kind = "fs-uuid"
		case "--set":
			i++
			if i < len(args) {
				setVar = args[i]
			}
		default:
			name = args[i]
		}
	}
	if kind == "" || setVar == "" || name == "" {
		return env, TestInvalid
	}
	if ev.resolver == nil {
		return env, TestFalse
	}
	device, ok := ev.resolver(kind, name)
	if !ok {
		return env, TestFalse
	}
	env[setVar] = device
	return env, TestTrue
}

// builtinLinux implements "linux PATH ARG*": PATH becomes $linux, and the
// remaining arguments are space-joined into $linux_cmdline.
func builtinLinux(_ *Evaluator, env Environment, args []string) (Environment, int) {
	if len(args) == 0 {
		return env, TestInvalid
	}
	env["linux"] = args[0]
	env["linux_cmdline"] = strings.Join(args[1:], " ")
	return env, TestTrue
}

// builtinInitrd implements "initrd PATH": the first invocation wins per
// spec §4.7's "captures initrd — first only when multiple are supplied".
func builtinInitrd(_ *Evaluator, env Environment, args []string) (Environment, int) {
	if len(args) == 0 {
		return env, TestInvalid
	}
	if _, already := env["initrd"]; !already {
		env["initrd"] = args[0]
	}
	return env, TestTrue
}

// builtinLoadEnv implements "load_env --file PATH WHITELIST*". The
// on-disk format read is a simplified newline-separated KEY=VALUE text file
// rather than GRUB's real fixed-size binary environment block, since
// spec §4.7 only describes the variable-loading behavior, not the on-disk
// encoding.
func builtinLoadEnv(ev *Evaluator, env Environment, args []string) (Environment, int) {
	path, whitelist, ok := parseEnvFileArgs(args)
	if !ok {
		return env, TestInvalid
	}
	data, err := ev.fs.ReadFile(path)
	if err != nil {
		return env, TestFalse
	}
	allow := make(map[string]bool, len(whitelist))
	for _, name := range whitelist {
		allow[name] = true
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if len(whitelist) > 0 && !allow[name] {
			continue
		}
		env[name] = value
	}
	return env, TestTrue
}

// builtinSaveEnv implements "save_env --file PATH VAR+".
func builtinSaveEnv(ev *Evaluator, env Environment, args []string) (Environment, int) {
	path, vars, ok := parseEnvFileArgs(args)
	if !ok || len(vars) == 0 {
		return env, TestInvalid
	}
	var b strings.Builder
	for _, name := range vars {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(env[name])
		b.WriteByte('\n')
	}
	if err := ev.fs.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return env, TestFalse
	}
	return env, TestTrue
}

func parseEnvFileArgs(args []string) (path string, rest []string, ok bool) {
	for i := 0; i < len(args); i++ {
		if args[i] == "--file" {
			i++
			if i >= len(args) {
				return "", nil, false
			}
			path = args[i]
			continue
		}
		rest = append(rest, args[i])
	}
	return path, rest, path != ""
}
