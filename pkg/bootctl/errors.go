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

// Package bootctl holds the error taxonomy and normalized boot data model
// shared by every catalog parser and by the selection state machine.
package bootctl

import "errors"

// Kind classifies an error by how the rest of the pipeline must react to it,
// per the propagation policy: some kinds skip one device, some skip one
// entry, some abort only the current boot attempt.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindBootConfigNotFound means no recognized catalog exists on a device. Non-fatal, skip device.
	KindBootConfigNotFound
	// KindInvalidCatalog means a catalog failed to parse. Non-fatal, skip device.
	KindInvalidCatalog
	// KindInvalidEntry means a single entry in an otherwise valid catalog is malformed. Non-fatal, skip entry.
	KindInvalidEntry
	// KindVerificationFailed means a signature was absent or did not verify. Fatal to this boot attempt.
	KindVerificationFailed
	// KindMeasurementFailed means extending a PCR failed. Logged, never fatal.
	KindMeasurementFailed
	// KindKexecLoadFailed means the kexec_file_load syscall failed. Fatal to this attempt.
	KindKexecLoadFailed
	// KindPermissionDenied is the KindKexecLoadFailed subcase surfaced when the
	// kernel's IMA appraisal rejected the image.
	KindPermissionDenied
	// KindIoError wraps any other I/O failure, propagated with its source.
	KindIoError
	// KindDuplicateConfig means the same catalog contents are reachable via another mount already seen.
	KindDuplicateConfig
)

func (k Kind) String() string {
	switch k {
	case KindBootConfigNotFound:
		return "BootConfigNotFound"
	case KindInvalidCatalog:
		return "InvalidCatalog"
	case KindInvalidEntry:
		return "InvalidEntry"
	case KindVerificationFailed:
		return "VerificationFailed"
	case KindMeasurementFailed:
		return "MeasurementFailed"
	case KindKexecLoadFailed:
		return "KexecLoadFailed"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindIoError:
		return "IoError"
	case KindDuplicateConfig:
		return "DuplicateConfig"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error carrying enough context (path, line, wrapped
// cause) to be actionable in logs, mirroring the exit-code-tagged error the
// teacher CLI uses to decide its process exit code.
type Error struct {
	kind    Kind
	msg     string
	path    string
	wrapped error
}

func (e *Error) Error() string {
	if e.path != "" {
		return e.kind.String() + ": " + e.msg + " (" + e.path + ")"
	}
	return e.kind.String() + ": " + e.msg
}

func (e *Error) Unwrap() error { return e.wrapped }

func (e *Error) Kind() Kind { return e.kind }

// New builds a Kind-tagged error from a message.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, msg: msg}
}

// NewPath builds a Kind-tagged error that also names the offending path.
func NewPath(kind Kind, msg, path string) error {
	return &Error{kind: kind, msg: msg, path: path}
}

// Wrap tags an existing error with a Kind, keeping it unwrappable.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, wrapped: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindIoError for anything else.
func KindOf(err error) Kind {
	type kinder interface{ Kind() Kind }
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindIoError
}

// Fatal reports whether an error of this kind is fatal to the current boot
// attempt, as opposed to skipping one device or entry or being only logged.
func (k Kind) Fatal() bool {
	switch k {
	case KindVerificationFailed, KindKexecLoadFailed, KindPermissionDenied:
		return true
	default:
		return false
	}
}
