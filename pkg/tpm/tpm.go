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

// Package tpm measures the verified boot artifacts into fixed platform
// configuration registers ahead of kexec handover. The contribution of this
// package is policy (which digest goes to which PCR, in what order) and a
// non-fatal failure posture; the TPM 2.0 wire protocol itself is a thin
// pass-through to go-tpm2.
package tpm

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/linux"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// Fixed PCR indices, per spec: the verification fingerprint, kernel command
// line, initrd, and kernel image each own a dedicated register so a verifier
// can attribute a PCR mismatch to the exact artifact that changed.
const (
	PCRVerification = 7
	PCRCmdline      = 8
	PCRInitrd       = 9
	PCRKernel       = 11
)

// DefaultDevice is the character device most Linux systems expose for the
// resident TPM.
const DefaultDevice = "/dev/tpm0"

// Device is a narrow handle to an open TPM 2.0 connection. All go-tpm2
// specific API usage is isolated to this file, mirroring the single narrow
// measure_boot binding tboot's own tpm.rs wraps around wolfTPM2.
type Device struct {
	tpm *tpm2.TPMContext
}

// Open connects to the TPM character device at path.
func Open(path string) (*Device, error) {
	transport, err := linux.OpenDevice(path)
	if err != nil {
		return nil, bootctl.New(bootctl.KindMeasurementFailed,
			fmt.Sprintf("opening TPM device %s: %v", path, err))
	}
	return &Device{tpm: tpm2.NewTPMContext(transport)}, nil
}

// Close releases the underlying TPM connection.
func (d *Device) Close() error {
	if d == nil || d.tpm == nil {
		return nil
	}
	return d.tpm.Close()
}

// Extend hashes data with SHA-256 and extends pcr with the resulting digest.
func (d *Device) Extend(pcr int, data []byte) error {
	sum := sha256.Sum256(data)
	return d.extendDigest(pcr, sum)
}

// ExtendStream hashes r with SHA-256 and extends pcr with the resulting
// digest, without buffering the whole stream in memory.
func (d *Device) ExtendStream(pcr int, r io.Reader) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return bootctl.New(bootctl.KindMeasurementFailed,
			fmt.Sprintf("hashing stream for PCR %d: %v", pcr, err))
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return d.extendDigest(pcr, sum)
}

func (d *Device) extendDigest(pcr int, sum [sha256.Size]byte) error {
	handle := tpm2.NewLimitedHandleContext(tpm2.Handle(pcr))
	digests := tpm2.TaggedHashList{
		{HashAlg: tpm2.HashAlgorithmSHA256, Digest: sum[:]},
	}
	if err := d.tpm.PCRExtend(handle, digests); err != nil {
		return bootctl.New(bootctl.KindMeasurementFailed,
			fmt.Sprintf("extending PCR %d: %v", pcr, err))
	}
	return nil
}

// Reset extends each of pcrs with a zero digest. Production boot never calls
// this; it exists so tests can bring a simulated TPM's PCRs back to a known
// state between cases.
func (d *Device) Reset(pcrs ...int) error {
	var zero [sha256.Size]byte
	for _, pcr := range pcrs {
		if err := d.extendDigest(pcr, zero); err != nil {
			return err
		}
	}
	return nil
}

// Extender is the narrow surface MeasureBoot needs from a TPM connection.
// Device satisfies it against real hardware; tests substitute a fake that
// records calls instead of touching /dev/tpm0.
type Extender interface {
	Extend(pcr int, data []byte) error
	ExtendStream(pcr int, r io.Reader) error
}

// MeasureBoot extends the four fixed PCRs with the digests of the verified
// fingerprint, the kernel command line, the initrd, and the kernel image, in
// that order. A fingerprint of "" (verification compiled out) skips PCR 7.
// An initrdPath of "" (no initrd supplied) skips PCR 9. Any single extension
// failure is wrapped as bootctl.KindMeasurementFailed and returned
// immediately; Kind.Fatal() already reports this kind as non-fatal, so
// callers log it and continue the boot rather than aborting.
func MeasureBoot(ext Extender, fs types.FS, fingerprint, cmdline, kernelPath, initrdPath string) error {
	fail := func(err error) error {
		if bootctl.KindOf(err) == bootctl.KindMeasurementFailed {
			return err
		}
		return bootctl.Wrap(bootctl.KindMeasurementFailed, "measuring boot artifacts", err)
	}

	if fingerprint != "" {
		if err := ext.Extend(PCRVerification, []byte(fingerprint)); err != nil {
			return fail(err)
		}
	}

	if err := ext.Extend(PCRCmdline, []byte(cmdline)); err != nil {
		return fail(err)
	}

	if initrdPath != "" {
		if err := extendFile(ext, fs, PCRInitrd, initrdPath); err != nil {
			return fail(err)
		}
	}

	if err := extendFile(ext, fs, PCRKernel, kernelPath); err != nil {
		return fail(err)
	}

	return nil
}

func extendFile(ext Extender, fs types.FS, pcr int, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return bootctl.New(bootctl.KindMeasurementFailed,
			fmt.Sprintf("opening %s for PCR %d measurement: %v", path, pcr, err))
	}
	defer f.Close()
	return ext.ExtendStream(pcr, f)
}
