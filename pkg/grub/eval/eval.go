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
	"fmt"
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/grub/ast"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// Evaluator walks an ast.Root left to right, maintaining a scope stack (§3),
// a function table, and the last exit code. It holds no module-level state:
// every piece of mutable state lives on the Evaluator value itself, per
// SPEC_FULL.md's "no global evaluator state" redesign note.
type Evaluator struct {
	fs           types.FS
	resolver     DeviceResolver
	environment  *ScopedEnvironment
	currentScope string
	lastExitCode int
	functions    map[string][]ast.Statement
	callSeq      int
	Menu         []MenuEntry
}

// New returns an Evaluator rooted at the empty root scope. fs backs
// test/load_env/save_env file access; resolver backs the search built-in
// and may be nil.
func New(fs types.FS, resolver DeviceResolver) *Evaluator {
	return &Evaluator{
		fs:           fs,
		resolver:     resolver,
		environment:  NewScopedEnvironment(),
		currentScope: RootScope,
		functions:    map[string][]ast.Statement{},
	}
}

// LastExitCode returns the most recently observed exit code, mirrored from
// $?.
func (ev *Evaluator) LastExitCode() int { return ev.lastExitCode }

// RootEnvironment returns the effective root-scope environment.
func (ev *Evaluator) RootEnvironment() (Environment, error) {
	return ev.environment.GetEnvironment(RootScope)
}

// Eval evaluates every top-level statement of root in the root scope.
func (ev *Evaluator) Eval(root ast.Root) error {
	return ev.evalStatements(root.Statements)
}

func (ev *Evaluator) evalStatements(statements []ast.Statement) error {
	for _, stmt := range statements {
		switch s := stmt.(type) {
		case ast.Assignment:
			ev.runAssignment(s)
		case ast.Command:
			if err := ev.runCommand(s); err != nil {
				return err
			}
		case ast.Function:
			if err := ev.addFunction(s); err != nil {
				return err
			}
		case ast.If:
			if err := ev.runIf(s); err != nil {
				return err
			}
		case ast.While:
			if err := ev.runWhile(s); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown statement type %T", stmt)
		}
	}
	return nil
}

func (ev *Evaluator) runAssignment(a ast.Assignment) {
	var value *string
	if a.Value != nil {
		interpolated := Interpolate(ev.envSnapshot(), *a.Value)
		value = &interpolated
	}
	ev.environment.SetEnvironment(ev.currentScope, a.Name, value)
}

func (ev *Evaluator) envSnapshot() Environment {
	env, err := ev.environment.GetEnvironment(ev.currentScope)
	if err != nil {
		return Environment{}
	}
	return env
}

// argText renders one command argument to a string: Value arguments are
// interpolated against the current scope, Literal arguments are taken
// verbatim. Block arguments have no string form and are never passed here
// for any command but menuentry/submenu.
func (ev *Evaluator) argText(arg ast.CommandArgument) string {
	if arg.Kind == ast.ArgLiteral {
		return arg.Text
	}
	return Interpolate(ev.envSnapshot(), arg.Text)
}

func (ev *Evaluator) argStrings(args []ast.CommandArgument) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg.Kind == ast.ArgBlock {
			return nil, fmt.Errorf("block argument is only legal inside menuentry or submenu")
		}
		out = append(out, ev.argText(arg))
	}
	return out, nil
}

func (ev *Evaluator) runCommand(cmd ast.Command) error {
	if cmd.Name == "menuentry" {
		ev.Menu = append(ev.Menu, ev.parseMenuEntry(cmd))
		ev.lastExitCode = TestTrue
		return nil
	}
	if cmd.Name == "submenu" {
		entry := ev.parseMenuEntry(cmd)
		entry.Submenu = ev.collectSubmenuEntries(entry.Block)
		entry.Block = nil
		ev.Menu = append(ev.Menu, entry)
		ev.lastExitCode = TestTrue
		return nil
	}

	args, err := ev.argStrings(cmd.Args)
	if err != nil {
		return err
	}

	if body, ok := ev.functions[cmd.Name]; ok {
		return ev.callFunction(cmd.Name, body, args)
	}

	env, err := ev.environment.GetEnvironment(ev.currentScope)
	if err != nil {
		return err
	}

	fn, ok := builtins[cmd.Name]
	if !ok {
		fn = noopSuccess
	}
	newEnv, exitCode := fn(ev, env, args)
	if newEnv != nil {
		newEnv["?"] = strconv.Itoa(exitCode)
	}
	ev.environment.OverwriteEnvironment(ev.currentScope, newEnv)
	ev.lastExitCode = exitCode
	return nil
}

func (ev *Evaluator) runIf(stmt ast.If) error {
	if err := ev.runCommand(stmt.Condition); err != nil {
		return err
	}
	success := ev.lastExitCode == TestTrue
	if stmt.Not {
		success = !success
	}

	if success {
		return ev.evalStatements(stmt.Consequence)
	}
	// A trailing else attaches to the deepest nested elif, so Alternative is
	// empty here whenever Elifs is non-empty; both are evaluated
	// unconditionally to mirror the reference evaluator exactly.
	for _, elif := range stmt.Elifs {
		if err := ev.runIf(elif); err != nil {
			return err
		}
	}
	return ev.evalStatements(stmt.Alternative)
}

// runWhile evaluates a while/until loop. Until inverts the sense of
// "continue"; an iteration count of zero is legal.
func (ev *Evaluator) runWhile(stmt ast.While) error {
	for {
		if err := ev.runCommand(stmt.Condition); err != nil {
			return err
		}
		cont := ev.lastExitCode == TestTrue
		if stmt.Until {
			cont = !cont
		}
		if !cont {
			return nil
		}
		if err := ev.evalStatements(stmt.Body); err != nil {
			return err
		}
	}
}

func (ev *Evaluator) addFunction(fn ast.Function) error {
	ev.functions[fn.Name] = fn.Body
	return nil
}

// callFunction pushes a fresh scope for one invocation of a GRUB function,
// binds the positional variables ($0, $1.., $#, $*, $@, $?) the reference
// evaluator exposes to a function body, evaluates the body in that scope,
// and pops back to the caller's scope on return. Each call gets its own
// uniquely named scope (keyed by a monotonic counter) rather than one scope
// per function name, since recursive or repeated calls would otherwise
// collide and clobber each other's positional bindings.
func (ev *Evaluator) callFunction(name string, body []ast.Statement, args []string) error {
	scope := fmt.Sprintf("call:%s:%d", name, ev.callSeq)
	ev.callSeq++
	if err := ev.environment.AddScope(scope, ev.currentScope); err != nil {
		return err
	}

	set := func(key, value string) { ev.environment.SetEnvironment(scope, key, &value) }
	set("0", name)
	for i, a := range args {
		set(strconv.Itoa(i+1), a)
	}
	set("#", strconv.Itoa(len(args)))
	joined := strings.Join(args, " ")
	set("*", joined)
	set("@", joined)
	set("?", strconv.Itoa(ev.lastExitCode))

	lastScope := ev.currentScope
	ev.currentScope = scope
	err := ev.evalStatements(body)
	ev.currentScope = lastScope
	if err != nil {
		return err
	}
	ev.lastExitCode = TestTrue
	return nil
}
