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
	"testing"

	"github.com/kexecboot/kexecboot/pkg/grub/parser"
	"github.com/kexecboot/kexecboot/pkg/types"
)

func mustEval(t *testing.T, src string) *Evaluator {
	t.Helper()
	root, err := parser.New(src).Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ev := New(types.OSFS{}, nil)
	if err := ev.Eval(root); err != nil {
		t.Fatalf("eval error: %v", err)
	}
	return ev
}

func TestEvalSetIfElse(t *testing.T) {
	ev := mustEval(t, "set default=0\n"+
		"if [ $default -eq 0 ]; then\n"+
		"  set chosen=zero\n"+
		"else\n"+
		"  set chosen=other\n"+
		"fi\n")
	env, err := ev.RootEnvironment()
	if err != nil {
		t.Fatalf("RootEnvironment: %v", err)
	}
	if env["chosen"] != "zero" {
		t.Fatalf("got chosen=%q, want zero", env["chosen"])
	}
	if ev.LastExitCode() != TestTrue {
		t.Fatalf("got last exit code %d, want %d", ev.LastExitCode(), TestTrue)
	}
}

func TestEvalElif(t *testing.T) {
	ev := mustEval(t, "set default=2\n"+
		"if [ $default -eq 0 ]; then\n"+
		"  set chosen=zero\n"+
		"elif [ $default -eq 2 ]; then\n"+
		"  set chosen=two\n"+
		"else\n"+
		"  set chosen=other\n"+
		"fi\n")
	env, _ := ev.RootEnvironment()
	if env["chosen"] != "two" {
		t.Fatalf("got chosen=%q, want two", env["chosen"])
	}
}

func TestEvalFunction(t *testing.T) {
	ev := mustEval(t, "function setit {\n"+
		"  set did_run=yes\n"+
		"}\n"+
		"setit\n")
	env, _ := ev.RootEnvironment()
	if env["did_run"] != "" {
		t.Fatalf("function-local variable leaked into root scope: %v", env)
	}
	fnEnv, err := ev.environment.GetEnvironment("call:setit:0")
	if err != nil {
		t.Fatalf("GetEnvironment(call:setit:0): %v", err)
	}
	if fnEnv["did_run"] != "yes" {
		t.Fatalf("got did_run=%q in function scope, want yes", fnEnv["did_run"])
	}
}

func TestEvalFunctionPositionalArgs(t *testing.T) {
	ev := mustEval(t, "function greet {\n"+
		"  set name=$1\n"+
		"  set count=${#}\n"+
		"  set all=${*}\n"+
		"}\n"+
		"greet alice bob\n")
	fnEnv, err := ev.environment.GetEnvironment("call:greet:0")
	if err != nil {
		t.Fatalf("GetEnvironment(call:greet:0): %v", err)
	}
	if fnEnv["name"] != "alice" {
		t.Fatalf("got $1=%q, want alice", fnEnv["name"])
	}
	if fnEnv["count"] != "2" {
		t.Fatalf("got $#=%q, want 2", fnEnv["count"])
	}
	if fnEnv["all"] != "alice bob" {
		t.Fatalf("got $*=%q, want %q", fnEnv["all"], "alice bob")
	}
}

func TestEvalFunctionRepeatedCallsGetFreshScopes(t *testing.T) {
	ev := mustEval(t, "function echoarg {\n"+
		"  set last=$1\n"+
		"}\n"+
		"echoarg one\n"+
		"echoarg two\n")
	first, err := ev.environment.GetEnvironment("call:echoarg:0")
	if err != nil {
		t.Fatalf("GetEnvironment(call:echoarg:0): %v", err)
	}
	second, err := ev.environment.GetEnvironment("call:echoarg:1")
	if err != nil {
		t.Fatalf("GetEnvironment(call:echoarg:1): %v", err)
	}
	if first["last"] != "one" {
		t.Fatalf("got first call last=%q, want one", first["last"])
	}
	if second["last"] != "two" {
		t.Fatalf("got second call last=%q, want two", second["last"])
	}
}

func TestEvalWhileLoop(t *testing.T) {
	ev := mustEval(t, "set n=no\n"+
		"while [ $n = no ]; do\n"+
		"  set n=yes\n"+
		"done\n")
	// The condition re-reads $n from the root scope each iteration, so the
	// loop runs exactly once before its own body flips the condition false.
	env, _ := ev.RootEnvironment()
	if env["n"] != "yes" {
		t.Fatalf("got n=%q, want yes", env["n"])
	}
}

func TestEvalUntilLoopZeroIterations(t *testing.T) {
	ev := mustEval(t, "set n=done\n"+
		"until [ $n = done ]; do\n"+
		"  set n=should-not-run\n"+
		"done\n")
	env, _ := ev.RootEnvironment()
	if env["n"] != "done" {
		t.Fatalf("until loop body ran when condition was already satisfied: n=%q", env["n"])
	}
}

func TestEvalMenuentryAndResolveEntry(t *testing.T) {
	ev := mustEval(t, `menuentry "Linux" --class gnu-linux { linux /boot/vmlinuz root=/dev/sda1; initrd /boot/initrd.img; }`)
	if len(ev.Menu) != 1 {
		t.Fatalf("got %d menu entries, want 1", len(ev.Menu))
	}
	if ev.Menu[0].Title != "Linux" {
		t.Fatalf("got title %q, want Linux", ev.Menu[0].Title)
	}
	if ev.Menu[0].Options.Class != "gnu-linux" {
		t.Fatalf("got class %q, want gnu-linux", ev.Menu[0].Options.Class)
	}

	entry, err := ev.ResolveEntry(ev.Menu[0])
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	if entry.Kernel != "/boot/vmlinuz" {
		t.Fatalf("got kernel %q, want /boot/vmlinuz", entry.Kernel)
	}
	if entry.Cmdline != "root=/dev/sda1" {
		t.Fatalf("got cmdline %q, want root=/dev/sda1", entry.Cmdline)
	}
	if entry.Initrd != "/boot/initrd.img" {
		t.Fatalf("got initrd %q, want /boot/initrd.img", entry.Initrd)
	}
}

func TestResolveEntryMissingLinuxIsFatal(t *testing.T) {
	ev := mustEval(t, `menuentry "Broken" { set x=1; }`)
	if _, err := ev.ResolveEntry(ev.Menu[0]); err == nil {
		t.Fatalf("expected error for menuentry with no linux command")
	}
}
