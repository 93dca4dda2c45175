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

// Package selector runs the timed selection state machine that coordinates
// device arrivals, the countdown, operator commands, and the
// verify-measure-kexec handover. It is pure orchestration: every side effect
// (booting an entry, unmounting media, executing the reboot) is injected, so
// the state machine itself is tested without touching real hardware.
//
// Grounded on the daemon/client event loop in
// original_source/tinyboot/tbootd/src/main.rs's boot() function: a tick
// thread and a key-reader thread feed a single select loop that tracks
// elapsed time against a timeout and an operator's pending digits, then
// dispatches to kexec_load/reboot/poweroff/shell on selection. That ad hoc
// loop is re-architected here (per spec.md §9's "global evaluator state"-style
// re-architecture note) as an explicit State/Event/Command automaton instead
// of one big function closure, since the spec names states and transitions
// directly.
package selector

import (
	"fmt"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
)

// State is one node of the selection automaton.
type State int

const (
	// Booting is the initial state, before any device has arrived.
	Booting State = iota
	// Timing is entered once at least one device is known; the countdown runs.
	Timing
	// AwaitingUser is the instant the operator interrupts the countdown.
	// It is not separately observable: HandleUserPresent folds straight
	// through to CommandLoop, matching spec.md §4.11's transition table,
	// which only ever names "Timing + UserPresent -> CommandLoop".
	AwaitingUser
	// CommandLoop is the interactive state driven by operator commands.
	CommandLoop
	// Handover is terminal: a boot target has been chosen and loaded.
	Handover
	// Reboot is terminal: the operator asked to reboot without booting an entry.
	Reboot
	// Poweroff is terminal: the operator asked to power off.
	Poweroff
)

func (s State) String() string {
	switch s {
	case Booting:
		return "Booting"
	case Timing:
		return "Timing"
	case AwaitingUser:
		return "AwaitingUser"
	case CommandLoop:
		return "CommandLoop"
	case Handover:
		return "Handover"
	case Reboot:
		return "Reboot"
	case Poweroff:
		return "Poweroff"
	default:
		return "Unknown"
	}
}

// Booter performs the verify -> measure -> kexec-load pipeline for a
// resolved entry, with its cmdline already overridden if the operator asked
// for that. Implementations compose pkg/verify, pkg/tpm, and pkg/kexec; the
// state machine only needs to know whether it succeeded.
type Booter interface {
	Boot(entry bootctl.Entry) error
}

// Command is an operator request accepted only in CommandLoop.
type Command interface{ isCommand() }

// BootCommand resolves a device/entry pair (1-based, per spec.md §4.11) and
// attempts to boot it, optionally with an overridden cmdline.
type BootCommand struct {
	Device  *int
	Entry   *int
	Cmdline *string
}

func (BootCommand) isCommand() {}

// LocalCommand covers every command executed entirely by the caller without
// changing machine state: List, Help, Shell, Dmesg, Rescan, Loader, and so on.
type LocalCommand struct {
	Name string
}

func (LocalCommand) isCommand() {}

// RebootCommand transitions CommandLoop -> Reboot.
type RebootCommand struct{}

func (RebootCommand) isCommand() {}

// PoweroffCommand transitions CommandLoop -> Poweroff.
type PoweroffCommand struct{}

func (PoweroffCommand) isCommand() {}

// Machine is the selection state machine for a single boot attempt.
type Machine struct {
	state   State
	booter  Booter
	devices []bootctl.Device

	defaultDeviceIdx int // -1 until a device has arrived
	timeout          int // seconds, aggregated as max(device timeouts)
	elapsed          int // seconds of ticks observed in Timing

	lastErr error
}

// New builds a Machine in the Booting state.
func New(booter Booter) *Machine {
	return &Machine{state: Booting, booter: booter, defaultDeviceIdx: -1}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Devices returns the devices seen so far, in arrival order.
func (m *Machine) Devices() []bootctl.Device { return m.devices }

// LastError returns the error from the most recent failed BootCommand or
// RunHandover unmount, or nil. It is cleared by the next successful
// BootCommand.
func (m *Machine) LastError() error { return m.lastErr }

// TimeLeft reports the countdown's remaining seconds, for the IPC server's
// TimeLeft broadcast. ok is false outside Timing, where there is no active
// countdown to report.
func (m *Machine) TimeLeft() (secondsLeft int, ok bool) {
	if m.state != Timing {
		return 0, false
	}
	left := m.timeout - m.elapsed
	if left < 0 {
		left = 0
	}
	return left, true
}

// HandleDevice implements "Booting/Timing + Device(D)": insert D, maybe
// adopt it as the default device, raise the aggregated timeout, and start
// timing if this is the first device seen.
func (m *Machine) HandleDevice(d bootctl.Device) {
	m.devices = append(m.devices, d)
	idx := len(m.devices) - 1

	switch {
	case m.defaultDeviceIdx < 0:
		m.defaultDeviceIdx = idx
	case d.Removable && !m.devices[m.defaultDeviceIdx].Removable:
		// Removable media always outranks a previously adopted
		// non-removable default, per spec.md §4.11's device precedence.
		m.defaultDeviceIdx = idx
	}

	if d.Timeout > m.timeout {
		m.timeout = d.Timeout
	}

	if m.state == Booting {
		m.state = Timing
	}
}

// HandleTick implements "Timing + Tick": advance the countdown by one
// second. Once elapsed has reached the aggregated timeout, it fires the
// default device's default entry and transitions to Handover. Outside
// Timing, or before any device has a usable default entry, it is a no-op.
func (m *Machine) HandleTick() (bootctl.Device, bootctl.Entry, bool) {
	if m.state != Timing {
		return bootctl.Device{}, bootctl.Entry{}, false
	}

	m.elapsed++
	if m.elapsed < m.timeout {
		return bootctl.Device{}, bootctl.Entry{}, false
	}

	dev, entry, ok := m.defaultSelection()
	if !ok {
		return bootctl.Device{}, bootctl.Entry{}, false
	}
	m.state = Handover
	return dev, entry, true
}

func (m *Machine) defaultSelection() (bootctl.Device, bootctl.Entry, bool) {
	if m.defaultDeviceIdx < 0 || m.defaultDeviceIdx >= len(m.devices) {
		return bootctl.Device{}, bootctl.Entry{}, false
	}
	dev := m.devices[m.defaultDeviceIdx]
	entry, ok := dev.DefaultEntry()
	return dev, entry, ok
}

// HandleUserPresent implements "Timing + UserPresent": suppress the
// timeout and enter the interactive command loop.
func (m *Machine) HandleUserPresent() {
	if m.state == Timing {
		m.state = CommandLoop
	}
}

// HandleCommand implements the CommandLoop transitions. It is only valid in
// CommandLoop; calling it from any other state is an invalid-entry error.
func (m *Machine) HandleCommand(cmd Command) error {
	if m.state != CommandLoop {
		return bootctl.New(bootctl.KindInvalidEntry, "command received outside the command loop")
	}

	switch c := cmd.(type) {
	case BootCommand:
		return m.handleBoot(c)
	case LocalCommand:
		return nil
	case RebootCommand:
		m.state = Reboot
		return nil
	case PoweroffCommand:
		m.state = Poweroff
		return nil
	default:
		return bootctl.New(bootctl.KindInvalidEntry, "unknown command")
	}
}

func (m *Machine) handleBoot(c BootCommand) error {
	_, entry, err := m.resolveBootTarget(c)
	if err != nil {
		m.lastErr = err
		return err
	}
	if c.Cmdline != nil {
		entry.Cmdline = *c.Cmdline
	}

	if err := m.booter.Boot(entry); err != nil {
		m.lastErr = err
		return err
	}

	m.lastErr = nil
	m.state = Handover
	return nil
}

// resolveBootTarget implements "locate entry (1-based indices; missing ->
// the default of the resolved device; missing device -> first device)".
func (m *Machine) resolveBootTarget(c BootCommand) (bootctl.Device, bootctl.Entry, error) {
	devIdx := 0
	if c.Device != nil {
		devIdx = *c.Device - 1
	}
	if devIdx < 0 || devIdx >= len(m.devices) {
		return bootctl.Device{}, bootctl.Entry{}, bootctl.New(bootctl.KindInvalidEntry,
			fmt.Sprintf("device index %d out of range", devIdx+1))
	}
	dev := m.devices[devIdx]

	if c.Entry != nil {
		entryIdx := *c.Entry - 1
		if entryIdx < 0 || entryIdx >= len(dev.Entries) {
			return bootctl.Device{}, bootctl.Entry{}, bootctl.New(bootctl.KindInvalidEntry,
				fmt.Sprintf("entry index %d out of range on device %q", entryIdx+1, dev.Name))
		}
		return dev, dev.Entries[entryIdx], nil
	}

	entry, ok := dev.DefaultEntry()
	if !ok {
		return bootctl.Device{}, bootctl.Entry{}, bootctl.New(bootctl.KindInvalidEntry,
			fmt.Sprintf("device %q has no boot entries", dev.Name))
	}
	return dev, entry, nil
}

// RunHandover implements the Handover terminal state: unmount every known
// device (best-effort; a mount that fails to unmount cleanly does not abort
// the reboot, but is recorded rather than discarded so LastError still
// surfaces it), then execute the kexec reboot. execute does not return under
// normal operation; if it does, that is reported as a fatal I/O error, per
// spec.md §4.11.
func (m *Machine) RunHandover(unmount func([]bootctl.Device) error, execute func() error) error {
	if m.state != Handover {
		return bootctl.New(bootctl.KindInvalidEntry, "RunHandover called outside the Handover state")
	}

	m.lastErr = unmount(m.devices)

	if err := execute(); err != nil {
		return bootctl.New(bootctl.KindIoError, fmt.Sprintf("kexec reboot returned unexpectedly: %v", err))
	}
	return nil
}
