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
	"fmt"
	"net"

	"github.com/kexecboot/kexecboot/pkg/ipc"
)

// client is a thin request/response wrapper over one IPC connection. It
// assumes a single in-flight request at a time, which is all an
// interactive or scripted CLI invocation ever needs; the daemon side
// (cmd/tbootd/server.go) handles concurrent connections, not concurrent
// requests on one connection.
type client struct {
	conn net.Conn
}

func dial(socketPath string) (*client, error) {
	conn, err := ipc.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) send(msg ipc.ClientMessage) error {
	payload, err := ipc.EncodeClient(msg)
	if err != nil {
		return err
	}
	return ipc.WriteFrame(c.conn, payload)
}

func (c *client) recv() (ipc.ServerMessage, error) {
	payload, err := ipc.ReadFrame(c.conn)
	if err != nil {
		return ipc.ServerMessage{}, err
	}
	return ipc.DecodeServer(payload)
}

// request sends msg and waits for exactly one reply, failing loudly on a
// ServerError rather than letting a caller silently proceed as if a Boot/
// Reboot/Poweroff request had succeeded.
func (c *client) request(msg ipc.ClientMessage) (ipc.ServerMessage, error) {
	if err := c.send(msg); err != nil {
		return ipc.ServerMessage{}, err
	}
	reply, err := c.recv()
	if err != nil {
		return ipc.ServerMessage{}, err
	}
	if reply.Type == ipc.ServerErrorMsg {
		return reply, fmt.Errorf("daemon rejected request: %s", reply.Error)
	}
	return reply, nil
}

func (c *client) ping() error {
	_, err := c.request(ipc.ClientMessage{Type: ipc.Ping})
	return err
}

func (c *client) listDevices() ([]ipc.BlockDevice, error) {
	reply, err := c.request(ipc.ClientMessage{Type: ipc.ListBlockDevices})
	if err != nil {
		return nil, err
	}
	return reply.Devices, nil
}

func (c *client) boot(device, entry *int, cmdline *string) error {
	_, err := c.request(ipc.ClientMessage{Type: ipc.Boot, Device: device, Entry: entry, Cmdline: cmdline})
	return err
}

func (c *client) reboot() error {
	_, err := c.request(ipc.ClientMessage{Type: ipc.Reboot})
	return err
}

func (c *client) poweroff() error {
	_, err := c.request(ipc.ClientMessage{Type: ipc.Poweroff})
	return err
}

func (c *client) userIsPresent() error {
	return c.send(ipc.ClientMessage{Type: ipc.UserIsPresent})
}

// watch puts the connection into streaming mode and calls onMessage for
// every NewDevice/TimeLeft broadcast until the connection closes or
// onMessage returns an error.
func (c *client) watch(onMessage func(ipc.ServerMessage) error) error {
	if err := c.send(ipc.ClientMessage{Type: ipc.StartStreaming}); err != nil {
		return err
	}
	for {
		msg, err := c.recv()
		if err != nil {
			return err
		}
		if err := onMessage(msg); err != nil {
			return err
		}
	}
}
