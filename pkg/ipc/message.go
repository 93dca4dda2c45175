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

// Package ipc implements the client/daemon protocol: a length-prefixed,
// self-describing message framing over a UNIX-domain stream socket, the
// client and server message taxonomies, and the bounded streaming buffer
// the daemon uses to decouple tick-driven events from a possibly
// disconnected client.
//
// Grounded on original_source/tinyboot/tboot/src/message.rs's Request/
// Response enums (Ping/Boot/Poweroff/Reboot/UserIsPresent and Pong/
// NewDevice/TimeLeft/ServerDone), generalized with the ListBlockDevices/
// StartStreaming/StopStreaming/ServerError members spec.md §4.12 adds, and
// on original_source/tboot/src/message.rs's later ClientMessage/
// ServerMessage/ServerError split, which is the one spec.md §4.12
// describes as authoritative (see spec.md §9's note that the later
// daemon/client split, not the earlier argh/mpsc generation, is the model).
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
)

// BlockDevice is the UI-facing summary of a piece of bootable media: just
// enough to let an operator choose among devices and entries by 1-based
// index, without exposing the daemon's internal bootctl.Device/Entry model.
type BlockDevice struct {
	Name      string   `json:"name"`
	Removable bool     `json:"removable"`
	Timeout   int      `json:"timeout"`
	Entries   []string `json:"entries"`
}

// SummarizeDevice builds the wire-level BlockDevice for a resolved
// bootctl.Device.
func SummarizeDevice(d bootctl.Device) BlockDevice {
	labels := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		labels[i] = e.Label
	}
	return BlockDevice{Name: d.Name, Removable: d.Removable, Timeout: d.Timeout, Entries: labels}
}

// ErrorKind mirrors bootctl.Kind on the wire without forcing the client to
// depend on pkg/bootctl; "ValidationFailed" is the distinguished
// KindPermissionDenied case the UI renders distinctly per spec.md §4.10/§7.
type ErrorKind string

const (
	ErrorValidationFailed ErrorKind = "ValidationFailed"
	ErrorUnknown          ErrorKind = "Unknown"
)

// KindToErrorKind maps an internal bootctl.Kind to its wire representation.
func KindToErrorKind(k bootctl.Kind) ErrorKind {
	if k == bootctl.KindPermissionDenied {
		return ErrorValidationFailed
	}
	return ErrorUnknown
}

// ClientMessage is the tagged union of every message the UI client can send.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// Populated only for Boot.
	Device  *int    `json:"device,omitempty"`
	Entry   *int    `json:"entry,omitempty"`
	Cmdline *string `json:"cmdline,omitempty"`
}

type ClientMessageType string

const (
	Ping             ClientMessageType = "Ping"
	StartStreaming   ClientMessageType = "StartStreaming"
	StopStreaming    ClientMessageType = "StopStreaming"
	ListBlockDevices ClientMessageType = "ListBlockDevices"
	UserIsPresent    ClientMessageType = "UserIsPresent"
	Boot             ClientMessageType = "Boot"
	Reboot           ClientMessageType = "Reboot"
	Poweroff         ClientMessageType = "Poweroff"
)

// ServerMessage is the tagged union of every message the daemon can send.
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// Populated only for NewDevice.
	NewDevice *BlockDevice `json:"new_device,omitempty"`
	// Populated only for ListBlockDevices.
	Devices []BlockDevice `json:"devices,omitempty"`
	// Populated only for TimeLeft; nil means no countdown is active.
	SecondsLeft *int `json:"seconds_left,omitempty"`
	// Populated only for ServerError.
	Error ErrorKind `json:"error,omitempty"`
}

type ServerMessageType string

const (
	Pong           ServerMessageType = "Pong"
	NewDeviceMsg   ServerMessageType = "NewDevice"
	TimeLeft       ServerMessageType = "TimeLeft"
	ListDevicesMsg ServerMessageType = "ListBlockDevices"
	ServerErrorMsg ServerMessageType = "ServerError"
	ServerDone     ServerMessageType = "ServerDone"
)

// EncodeClient marshals msg to the bytes that should be framed on the wire.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeClient unmarshals a client message payload.
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decoding client message: %w", err)
	}
	return msg, nil
}

// EncodeServer marshals msg to the bytes that should be framed on the wire.
func EncodeServer(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeServer unmarshals a server message payload.
func DecodeServer(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decoding server message: %w", err)
	}
	return msg, nil
}
