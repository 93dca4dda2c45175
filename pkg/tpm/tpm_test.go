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

package tpm

import (
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

type fakeExtension struct {
	pcr    int
	digest [sha256.Size]byte
}

type fakeExtender struct {
	extensions []fakeExtension
	failPCR    int
}

func (f *fakeExtender) Extend(pcr int, data []byte) error {
	if pcr == f.failPCR {
		return errors.New("simulated TPM failure")
	}
	f.extensions = append(f.extensions, fakeExtension{pcr: pcr, digest: sha256.Sum256(data)})
	return nil
}

func (f *fakeExtender) ExtendStream(pcr int, r io.Reader) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return err
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	if pcr == f.failPCR {
		return errors.New("simulated TPM failure")
	}
	f.extensions = append(f.extensions, fakeExtension{pcr: pcr, digest: sum})
	return nil
}

func TestMeasureBootOrderAndDigests(t *testing.T) {
	dir := t.TempDir()
	kernelPath := filepath.Join(dir, "vmlinuz")
	initrdPath := filepath.Join(dir, "initrd.img")
	kernelBytes := []byte("kernel image bytes")
	initrdBytes := []byte("initrd image bytes")
	if err := os.WriteFile(kernelPath, kernelBytes, 0o644); err != nil {
		t.Fatalf("WriteFile kernel: %v", err)
	}
	if err := os.WriteFile(initrdPath, initrdBytes, 0o644); err != nil {
		t.Fatalf("WriteFile initrd: %v", err)
	}

	ext := &fakeExtender{failPCR: -1}
	fingerprint := "deadbeef"
	cmdline := "root=/dev/sda1 ro"

	if err := MeasureBoot(ext, types.OSFS{}, fingerprint, cmdline, kernelPath, initrdPath); err != nil {
		t.Fatalf("MeasureBoot: %v", err)
	}

	wantOrder := []int{PCRVerification, PCRCmdline, PCRInitrd, PCRKernel}
	if len(ext.extensions) != len(wantOrder) {
		t.Fatalf("got %d extensions, want %d", len(ext.extensions), len(wantOrder))
	}
	for i, pcr := range wantOrder {
		if ext.extensions[i].pcr != pcr {
			t.Errorf("extension %d went to PCR %d, want %d", i, ext.extensions[i].pcr, pcr)
		}
	}

	wantFingerprint := sha256.Sum256([]byte(fingerprint))
	if ext.extensions[0].digest != wantFingerprint {
		t.Errorf("fingerprint digest mismatch")
	}
	wantCmdline := sha256.Sum256([]byte(cmdline))
	if ext.extensions[1].digest != wantCmdline {
		t.Errorf("cmdline digest mismatch")
	}
	wantInitrd := sha256.Sum256(initrdBytes)
	if ext.extensions[2].digest != wantInitrd {
		t.Errorf("initrd digest mismatch")
	}
	wantKernel := sha256.Sum256(kernelBytes)
	if ext.extensions[3].digest != wantKernel {
		t.Errorf("kernel digest mismatch")
	}
}

func TestMeasureBootSkipsFingerprintAndInitrdWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	kernelPath := filepath.Join(dir, "vmlinuz")
	if err := os.WriteFile(kernelPath, []byte("kernel"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ext := &fakeExtender{failPCR: -1}
	if err := MeasureBoot(ext, types.OSFS{}, "", "root=/dev/sda1", kernelPath, ""); err != nil {
		t.Fatalf("MeasureBoot: %v", err)
	}

	wantOrder := []int{PCRCmdline, PCRKernel}
	if len(ext.extensions) != len(wantOrder) {
		t.Fatalf("got %d extensions, want %d", len(ext.extensions), len(wantOrder))
	}
	for i, pcr := range wantOrder {
		if ext.extensions[i].pcr != pcr {
			t.Errorf("extension %d went to PCR %d, want %d", i, ext.extensions[i].pcr, pcr)
		}
	}
}

func TestMeasureBootPropagatesFailureAsNonFatalKind(t *testing.T) {
	dir := t.TempDir()
	kernelPath := filepath.Join(dir, "vmlinuz")
	if err := os.WriteFile(kernelPath, []byte("kernel"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ext := &fakeExtender{failPCR: PCRCmdline}
	err := MeasureBoot(ext, types.OSFS{}, "fingerprint", "root=/dev/sda1", kernelPath, "")
	if err == nil {
		t.Fatalf("expected error when PCR extension fails")
	}
	if kind := bootctl.KindOf(err); kind != bootctl.KindMeasurementFailed || kind.Fatal() {
		t.Errorf("got error kind %v (fatal=%v), want non-fatal KindMeasurementFailed", kind, kind.Fatal())
	}
}
