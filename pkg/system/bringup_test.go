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

package system

import (
	"strings"
	"testing"

	mountutils "k8s.io/mount-utils"

	"github.com/kexecboot/kexecboot/pkg/types"
)

func TestBringupRunWithoutVerificationKeyWritesPolicyWithoutAppraise(t *testing.T) {
	fakeMnt := mountutils.NewFakeMounter(nil)
	policyPath := t.TempDir() + "/policy"
	fs := types.OSFS{}

	b, err := NewBringup(
		WithMounter(fakeMnt),
		WithFS(fs),
		WithIMAPolicyPath(policyPath),
		WithPseudoMounts(DefaultPseudoMounts()),
	)
	if err != nil {
		t.Fatalf("NewBringup: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fakeMnt.MountPoints) != len(DefaultPseudoMounts()) {
		t.Errorf("got %d mount points, want %d", len(fakeMnt.MountPoints), len(DefaultPseudoMounts()))
	}
	policy, err := fs.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(policy), "appraise") {
		t.Errorf("policy should not contain appraise rules without a verification key:\n%s", policy)
	}
}

func TestBringupRunWithVerificationKeyWritesPolicyWithAppraise(t *testing.T) {
	dir := t.TempDir()
	policyPath := dir + "/policy"
	pubkeyPath := dir + "/key.der"
	fs := types.OSFS{}
	if err := fs.WriteFile(pubkeyPath, []byte("key-bytes"), 0o600); err != nil {
		t.Fatalf("writing fake pubkey: %v", err)
	}

	adder := &recordingKeyAdder{procKeys: sampleProcKeys}
	b, err := NewBringup(
		WithFS(fakeProcKeysFS{OSFS: fs, procKeys: sampleProcKeys}),
		WithKeyAdder(adder),
		WithVerificationKeyPath(pubkeyPath),
		WithIMAPolicyPath(policyPath),
	)
	if err != nil {
		t.Fatalf("NewBringup: %v", err)
	}
	if err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	policy, err := fs.ReadFile(policyPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(policy), "appraise func=KEXEC_KERNEL_CHECK") {
		t.Errorf("policy should contain appraise rules once a key is loaded:\n%s", policy)
	}
}

// fakeProcKeysFS answers ReadFile(defaultProcKeysPath) with a fixed listing
// and everything else from the real filesystem.
type fakeProcKeysFS struct {
	types.OSFS
	procKeys string
}

func (f fakeProcKeysFS) ReadFile(name string) ([]byte, error) {
	if name == defaultProcKeysPath {
		return []byte(f.procKeys), nil
	}
	return f.OSFS.ReadFile(name)
}

type recordingKeyAdder struct {
	procKeys string
}

func (a *recordingKeyAdder) AddKey(keyType, description string, payload []byte, ringid int) (int, error) {
	return 1, nil
}
