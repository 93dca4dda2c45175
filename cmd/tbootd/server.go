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
	"errors"
	"io"
	"net"
	"time"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/ipc"
	"github.com/kexecboot/kexecboot/pkg/log"
	"github.com/kexecboot/kexecboot/pkg/selector"
)

// drainInterval is how often a streaming connection's writer goroutine
// flushes whatever the dispatch loop buffered for it.
const drainInterval = 200 * time.Millisecond

// serveIPC accepts connections on l until it is closed (Listener.Close,
// called when the daemon is shutting down, is what unblocks Accept).
func serveIPC(l net.Listener, d *Daemon, logger log.Logger) {
	for {
		conn, err := l.Accept()
		if err != nil {
			logger.Infof("IPC listener closed: %v", err)
			return
		}
		go handleConn(conn, d, logger)
	}
}

func handleConn(conn net.Conn, d *Daemon, logger log.Logger) {
	defer conn.Close()

	client := newClientConn()
	d.register(client)
	defer d.unregister(client)

	done := make(chan struct{})
	defer close(done)
	go writeLoop(conn, client, done, logger)

	for {
		payload, err := ipc.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("IPC connection read error: %v", err)
			}
			return
		}
		msg, err := ipc.DecodeClient(payload)
		if err != nil {
			logger.Warnf("dropping malformed client message: %v", err)
			continue
		}
		if err := dispatch(conn, msg, client, d); err != nil {
			logger.Debugf("IPC connection write error: %v", err)
			return
		}
	}
}

// writeLoop periodically flushes client's buffered NewDevice/TimeLeft
// messages to conn while streaming is enabled, independent of the
// request/response traffic handleConn's read loop drives.
func writeLoop(conn net.Conn, client *clientConn, done <-chan struct{}, logger log.Logger) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			for _, msg := range client.drain() {
				if err := writeServerMessage(conn, msg); err != nil {
					logger.Debugf("IPC streaming write error: %v", err)
					return
				}
			}
		}
	}
}

func writeServerMessage(conn net.Conn, msg ipc.ServerMessage) error {
	payload, err := ipc.EncodeServer(msg)
	if err != nil {
		return err
	}
	return ipc.WriteFrame(conn, payload)
}

func dispatch(conn net.Conn, msg ipc.ClientMessage, client *clientConn, d *Daemon) error {
	switch msg.Type {
	case ipc.Ping:
		return writeServerMessage(conn, ipc.ServerMessage{Type: ipc.Pong})

	case ipc.StartStreaming:
		client.setStreaming(true)
		return nil

	case ipc.StopStreaming:
		client.setStreaming(false)
		return nil

	case ipc.ListBlockDevices:
		devices := d.ListDevices()
		summaries := make([]ipc.BlockDevice, len(devices))
		for i, dev := range devices {
			summaries[i] = ipc.SummarizeDevice(dev)
		}
		return writeServerMessage(conn, ipc.ServerMessage{Type: ipc.ListDevicesMsg, Devices: summaries})

	case ipc.UserIsPresent:
		d.SubmitUserPresent()
		return nil

	case ipc.Boot:
		cmd := selector.BootCommand{Device: msg.Device, Entry: msg.Entry, Cmdline: msg.Cmdline}
		return replyToCommand(conn, d.SubmitCommand(cmd))

	case ipc.Reboot:
		return replyToCommand(conn, d.SubmitCommand(selector.RebootCommand{}))

	case ipc.Poweroff:
		return replyToCommand(conn, d.SubmitCommand(selector.PoweroffCommand{}))

	default:
		return writeServerMessage(conn, ipc.ServerMessage{Type: ipc.ServerErrorMsg, Error: ipc.ErrorUnknown})
	}
}

func replyToCommand(conn net.Conn, err error) error {
	if err == nil {
		return writeServerMessage(conn, ipc.ServerMessage{Type: ipc.ServerDone})
	}
	return writeServerMessage(conn, ipc.ServerMessage{
		Type:  ipc.ServerErrorMsg,
		Error: ipc.KindToErrorKind(bootctl.KindOf(err)),
	})
}
