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

// Package uevent parses kernel hot-plug notifications and turns "add" events
// for block disks into a stream the mount manager and selection state
// machine can react to.
package uevent

import (
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
)

// Action is the kernel-reported lifecycle action of a device.
type Action int

const (
	ActionUnknown Action = iota
	ActionAdd
	ActionRemove
	ActionChange
	ActionMove
	ActionOnline
	ActionOffline
	ActionBind
	ActionUnbind
)

func parseAction(s string) Action {
	switch s {
	case "add":
		return ActionAdd
	case "remove":
		return ActionRemove
	case "change":
		return ActionChange
	case "move":
		return ActionMove
	case "online":
		return ActionOnline
	case "offline":
		return ActionOffline
	case "bind":
		return ActionBind
	case "unbind":
		return ActionUnbind
	default:
		return ActionUnknown
	}
}

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionChange:
		return "change"
	case ActionMove:
		return "move"
	case ActionOnline:
		return "online"
	case ActionOffline:
		return "offline"
	case ActionBind:
		return "bind"
	case ActionUnbind:
		return "unbind"
	default:
		return "unknown"
	}
}

// DeviceType distinguishes block devices from character devices, which
// matters both for makedev and for identifying mountable disks.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeBlock
	DeviceTypeCharacter
)

// Event is an immutable parsed kernel uevent.
type Event struct {
	Action  Action
	DevPath string
	Major   int
	Minor   int
	DevName string
	DevType DeviceType
	Env     map[string]string
}

// IsMountableDisk reports whether this add event names a whole disk (not a
// partition) on the block subsystem and carries a non-empty DISKSEQ, which
// it returns as the identity used to name the disk's private mountpoint. A
// disk event without DISKSEQ is reported as not mountable.
func (e Event) IsMountableDisk() (diskseq string, ok bool) {
	if e.Action != ActionAdd {
		return "", false
	}
	if e.Env["SUBSYSTEM"] != "block" || e.Env["DEVTYPE"] != "disk" {
		return "", false
	}
	seq, present := e.Env["DISKSEQ"]
	if !present || seq == "" {
		return "", false
	}
	return seq, true
}

// Parse decodes a raw netlink uevent payload of the form
// "ACTION@DEVPATH\0KEY=VALUE\0...". Unknown actions parse fine; callers log
// and ignore them per the hot-plug listener's contract.
func Parse(raw []byte) (Event, error) {
	parts := splitNUL(raw)
	if len(parts) == 0 {
		return Event{}, bootctl.New(bootctl.KindInvalidCatalog, "empty uevent payload")
	}

	header := parts[0]
	at := strings.IndexByte(header, '@')
	if at < 0 {
		return Event{}, bootctl.New(bootctl.KindInvalidCatalog, "uevent header missing '@'")
	}

	ev := Event{
		Action:  parseAction(header[:at]),
		DevPath: header[at+1:],
		Env:     make(map[string]string, len(parts)-1),
	}

	for _, kv := range parts[1:] {
		if kv == "" {
			continue
		}
		k, v, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		ev.Env[k] = v
	}

	if v, ok := ev.Env["ACTION"]; ok {
		ev.Action = parseAction(v)
	}
	if v, ok := ev.Env["MAJOR"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			ev.Major = n
		}
	}
	if v, ok := ev.Env["MINOR"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			ev.Minor = n
		}
	}
	ev.DevName = ev.Env["DEVNAME"]

	switch ev.Env["SUBSYSTEM"] {
	case "block":
		ev.DevType = DeviceTypeBlock
	case "":
		// leave as DeviceTypeUnknown
	default:
		ev.DevType = DeviceTypeCharacter
	}
	if ev.Env["DEVTYPE"] == "disk" || ev.Env["DEVTYPE"] == "partition" {
		ev.DevType = DeviceTypeBlock
	}

	return ev, nil
}

func splitNUL(raw []byte) []string {
	s := string(raw)
	s = strings.TrimRight(s, "\x00")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x00")
}
