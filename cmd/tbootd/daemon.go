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

package main

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/ipc"
	"github.com/kexecboot/kexecboot/pkg/log"
	"github.com/kexecboot/kexecboot/pkg/mount"
	"github.com/kexecboot/kexecboot/pkg/selector"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// streamCapacity bounds how many NewDevice/TimeLeft messages a connection
// not currently streaming can accumulate before the oldest is dropped.
const streamCapacity = 32

// clientConn is one connected UI client's streaming state: a bounded
// buffer decoupling the daemon's event production from a possibly
// disconnected or non-streaming client. Its mutex exists because the
// daemon's single dispatch goroutine pushes into it while the
// connection's own writer goroutine drains it concurrently.
type clientConn struct {
	mu        sync.Mutex
	buf       *ipc.StreamBuffer
	streaming bool
}

func newClientConn() *clientConn {
	return &clientConn{buf: ipc.NewStreamBuffer(streamCapacity)}
}

func (c *clientConn) push(msg ipc.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Push(msg)
}

func (c *clientConn) setStreaming(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = on
}

// drain returns buffered messages if streaming is on, nil otherwise; it
// never blocks the dispatch goroutine's push.
func (c *clientConn) drain() []ipc.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return nil
	}
	return c.buf.Drain()
}

type commandRequest struct {
	cmd  selector.Command
	resp chan error
}

type listRequest struct {
	resp chan []bootctl.Device
}

// Daemon owns the single selector.Machine instance and serializes every
// access to it through one dispatch goroutine (Run), so IPC connections,
// the uevent listener, and the tick source never touch Machine
// concurrently. This replaces the grounding source's single-threaded
// tokio select! loop (main.rs's boot()) with an explicit channel-fed
// event loop, the idiomatic Go equivalent of the same "one loop owns the
// state" design.
type Daemon struct {
	logger  log.Logger
	machine *selector.Machine
	booter  selector.Booter
	mgr     *mount.Manager
	fs      types.FS

	deviceCh      chan bootctl.Device
	commandCh     chan commandRequest
	userPresentCh chan struct{}
	listCh        chan listRequest
	registerCh    chan *clientConn
	unregisterCh  chan *clientConn

	subscribers map[*clientConn]bool
}

func NewDaemon(logger log.Logger, booter selector.Booter, mgr *mount.Manager, fs types.FS) *Daemon {
	return &Daemon{
		logger:        logger,
		machine:       selector.New(booter),
		booter:        booter,
		mgr:           mgr,
		fs:            fs,
		deviceCh:      make(chan bootctl.Device),
		commandCh:     make(chan commandRequest),
		userPresentCh: make(chan struct{}),
		listCh:        make(chan listRequest),
		registerCh:    make(chan *clientConn),
		unregisterCh:  make(chan *clientConn),
		subscribers:   make(map[*clientConn]bool),
	}
}

// SubmitDevice feeds a newly mounted device into the dispatch loop.
func (d *Daemon) SubmitDevice(dev bootctl.Device) { d.deviceCh <- dev }

// SubmitCommand runs cmd against the machine and blocks for its result.
func (d *Daemon) SubmitCommand(cmd selector.Command) error {
	resp := make(chan error, 1)
	d.commandCh <- commandRequest{cmd: cmd, resp: resp}
	return <-resp
}

// SubmitUserPresent signals that the operator interrupted the countdown.
func (d *Daemon) SubmitUserPresent() { d.userPresentCh <- struct{}{} }

// ListDevices returns a snapshot of every device seen so far.
func (d *Daemon) ListDevices() []bootctl.Device {
	resp := make(chan []bootctl.Device, 1)
	d.listCh <- listRequest{resp: resp}
	return <-resp
}

func (d *Daemon) register(c *clientConn)   { d.registerCh <- c }
func (d *Daemon) unregister(c *clientConn) { d.unregisterCh <- c }

// Run is the dispatch loop: the only goroutine that ever touches Machine.
// It returns once the machine reaches a terminal state, after carrying out
// the matching terminal action (handover, or a bare reboot/poweroff).
func (d *Daemon) Run(execute func() error) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case dev := <-d.deviceCh:
			d.machine.HandleDevice(dev)
			d.broadcast(ipc.ServerMessage{Type: ipc.NewDeviceMsg, NewDevice: deviceSummary(dev)})
			d.broadcastTimeLeft()

		case <-ticker.C:
			if d.machine.State() != selector.Timing {
				continue
			}
			entry, fired := d.fireTick()
			if !fired {
				d.broadcastTimeLeft()
				continue
			}
			if err := d.booter.Boot(entry); err != nil {
				// Handover was already entered by HandleTick; there is no
				// transition back to CommandLoop for a failed automatic
				// boot, so the daemon still unmounts and reboots rather
				// than wedging with nothing staged for kexec.
				d.logger.Errorf("automatic boot of %q failed: %v", entry.Label, err)
			}
			return d.machine.RunHandover(d.unmount, execute)

		case req := <-d.commandCh:
			req.resp <- d.machine.HandleCommand(req.cmd)
			switch d.machine.State() {
			case selector.Handover:
				return d.machine.RunHandover(d.unmount, execute)
			case selector.Reboot:
				return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
			case selector.Poweroff:
				return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
			}

		case <-d.userPresentCh:
			d.machine.HandleUserPresent()

		case req := <-d.listCh:
			req.resp <- d.machine.Devices()

		case c := <-d.registerCh:
			d.subscribers[c] = true

		case c := <-d.unregisterCh:
			delete(d.subscribers, c)
		}
	}
}

func (d *Daemon) fireTick() (bootctl.Entry, bool) {
	_, entry, fired := d.machine.HandleTick()
	return entry, fired
}

func (d *Daemon) unmount(_ []bootctl.Device) error {
	return d.mgr.UnmountAll()
}

func (d *Daemon) broadcast(msg ipc.ServerMessage) {
	for c := range d.subscribers {
		c.push(msg)
	}
}

func (d *Daemon) broadcastTimeLeft() {
	left, ok := d.machine.TimeLeft()
	var secondsLeft *int
	if ok {
		secondsLeft = &left
	}
	d.broadcast(ipc.ServerMessage{Type: ipc.TimeLeft, SecondsLeft: secondsLeft})
}

func deviceSummary(dev bootctl.Device) *ipc.BlockDevice {
	summary := ipc.SummarizeDevice(dev)
	return &summary
}
