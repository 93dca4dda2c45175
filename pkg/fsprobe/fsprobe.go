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

// Package fsprobe classifies a block device's filesystem from its first
// 64 KiB, the way blkid does, but limited to the three dialects this boot
// engine understands: ext4, vfat (FAT12/16/32), and ISO9660.
package fsprobe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// Kind names a recognized filesystem.
type Kind int

const (
	Unknown Kind = iota
	Ext4
	VFAT
	ISO9660
)

func (k Kind) String() string {
	switch k {
	case Ext4:
		return "ext4"
	case VFAT:
		return "vfat"
	case ISO9660:
		return "iso9660"
	default:
		return "unknown"
	}
}

// Info is the classification result.
type Info struct {
	Kind  Kind
	UUID  string
	Label string
}

const probeWindow = 64 * 1024

// ProbeFile opens path read-only, classifies it, and closes the handle
// before returning — callers probe each partition exactly once at mount
// time, no caching is done here or by any caller.
func ProbeFile(fsys types.FS, path string) (Info, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Info{}, bootctl.Wrap(bootctl.KindIoError, "opening device for probing", err)
	}
	defer f.Close()

	buf := make([]byte, probeWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Info{}, bootctl.Wrap(bootctl.KindIoError, "reading device for probing", err)
	}
	return Probe(buf[:n])
}

// Probe classifies a buffer holding (up to) the first 64 KiB of a device.
// It is a pure function of its input, per the testable invariant that
// anything outside the documented signatures yields Unknown, never a false
// positive.
func Probe(buf []byte) (Info, error) {
	if info, ok := probeVFAT(buf); ok {
		return info, nil
	}
	if info, ok := probeExt4(buf); ok {
		return info, nil
	}
	if info, ok := probeISO9660(buf); ok {
		return info, nil
	}
	return Info{}, bootctl.New(bootctl.KindInvalidCatalog, "unsupported filesystem")
}

func at(buf []byte, offset, length int) ([]byte, bool) {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return nil, false
	}
	return buf[offset : offset+length], true
}

func probeVFAT(buf []byte) (Info, bool) {
	sig, ok := at(buf, 510, 2)
	if !ok || sig[0] != 0x55 || sig[1] != 0xAA {
		return Info{}, false
	}

	if ident, ok := at(buf, 82, 8); ok && bytes.Equal(ident, []byte("FAT32   ")) {
		uuidBytes, _ := at(buf, 67, 4)
		labelBytes, _ := at(buf, 71, 11)
		return Info{Kind: VFAT, UUID: fatUUID(uuidBytes), Label: trimLabel(labelBytes)}, true
	}

	if ident, ok := at(buf, 54, 3); ok && bytes.Equal(ident, []byte("FAT")) {
		uuidBytes, _ := at(buf, 39, 4)
		labelBytes, _ := at(buf, 43, 11)
		return Info{Kind: VFAT, UUID: fatUUID(uuidBytes), Label: trimLabel(labelBytes)}, true
	}

	return Info{}, false
}

func fatUUID(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	v := binary.LittleEndian.Uint32(b)
	return fmt.Sprintf("%04X-%04X", v>>16, v&0xFFFF)
}

func trimLabel(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}

const ext4SuperblockOffset = 0x400

func probeExt4(buf []byte) (Info, bool) {
	magic, ok := at(buf, ext4SuperblockOffset+0x38, 2)
	if !ok || binary.LittleEndian.Uint16(magic) != 0xEF53 {
		return Info{}, false
	}

	uuidBytes, _ := at(buf, ext4SuperblockOffset+0x68, 16)
	labelBytes, _ := at(buf, ext4SuperblockOffset+0x78, 16)

	return Info{
		Kind:  Ext4,
		UUID:  rfc4122(uuidBytes),
		Label: string(bytes.TrimRight(labelBytes, "\x00")),
	}, true
}

func rfc4122(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

var iso9660Offsets = [...]int{0x8001, 0x8801, 0x9001}

func probeISO9660(buf []byte) (Info, bool) {
	for _, off := range iso9660Offsets {
		if sig, ok := at(buf, off, 5); ok && bytes.Equal(sig, []byte("CD001")) {
			return Info{Kind: ISO9660}, true
		}
	}
	return Info{}, false
}
