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

package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload, guarding against a
// misbehaving peer claiming an unreasonable length.
const MaxFrameSize = 1 << 20 // 1 MiB

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
//
// No library in the retrieval pack performs schema-free, self-describing
// struct serialization the way the grounding source's tokio_serde_cbor
// codec does (the pack's only wire-serialization dependency, protobuf, is
// schema-based and appears only as an indirect dependency pulled in by
// Kubernetes client libraries, never used directly by the teacher's own
// code for a purpose like this) — so the frame length prefix is hand-rolled
// over encoding/binary and the payload itself is encoding/json (see
// message.go), both standard library, paired the way
// tokio-util's LengthDelimitedCodec pairs a length prefix with an
// arbitrary self-describing payload codec.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame payload too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}
