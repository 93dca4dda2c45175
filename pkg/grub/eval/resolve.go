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

	"github.com/kexecboot/kexecboot/pkg/bootctl"
)

// ResolveEntry evaluates a menu entry's block in a fresh child scope of
// root and reads linux/linux_cmdline/initrd back out to produce a
// normalized BootEntry, per spec §4.7. Missing linux is fatal; missing
// initrd means "boot without initrd".
func (ev *Evaluator) ResolveEntry(entry MenuEntry) (bootctl.Entry, error) {
	scope := fmt.Sprintf("menuentry:%s:%d", entry.Title, ev.callSeq)
	ev.callSeq++
	if err := ev.environment.AddScope(scope, RootScope); err != nil {
		return bootctl.Entry{}, err
	}

	lastScope := ev.currentScope
	ev.currentScope = scope
	err := ev.evalStatements(entry.Block)
	ev.currentScope = lastScope
	if err != nil {
		return bootctl.Entry{}, err
	}

	env, err := ev.environment.GetEnvironment(scope)
	if err != nil {
		return bootctl.Entry{}, err
	}

	linux, ok := env["linux"]
	if !ok || linux == "" {
		return bootctl.Entry{}, bootctl.New(bootctl.KindInvalidEntry, fmt.Sprintf("menuentry %q has no linux command", entry.Title))
	}

	return bootctl.Entry{
		Label:   entry.Title,
		Kernel:  linux,
		Initrd:  env["initrd"],
		Cmdline: env["linux_cmdline"],
		ID:      entry.Options.ID,
	}, nil
}
