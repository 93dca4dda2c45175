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
	"errors"
	"path"
	"testing"

	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/kexecboot/kexecboot/pkg/types"
)

const sampleProcKeys = `3b7511b0 I--Q---     1 perm 0b0b0000     0     0 user      invocation_id: 16
1a2b3c4d I--Q---     1 perm 1f3f0000     0     0 keyring   .ima: 2
09d8f7e6 I--Q---     1 perm 3f030000     0     0 keyring   _uid.0: 2
`

func TestFindIMAKeyring(t *testing.T) {
	id, err := FindIMAKeyring(sampleProcKeys)
	if err != nil {
		t.Fatalf("FindIMAKeyring: %v", err)
	}
	if id != 0x1a2b3c4d {
		t.Errorf("got id %#x, want %#x", id, 0x1a2b3c4d)
	}
}

func TestFindIMAKeyringMissing(t *testing.T) {
	if _, err := FindIMAKeyring("09d8f7e6 I--Q---     1 perm 3f030000     0     0 keyring   _uid.0: 2\n"); err == nil {
		t.Fatalf("expected an error when no .ima keyring is present")
	}
}

// testFS builds a vfst-backed, real-file real-disk FS rooted at a temp
// directory, the same way the grounding source's cmd/config tests build
// their fixture filesystems: a nested map of path to contents, with a path
// left out when its contents are empty. The temp directory is removed
// through t.Cleanup.
func testFS(t *testing.T, pubkeyPath string, pubkeyContents []byte, procKeysContents string) types.FS {
	t.Helper()
	root := map[string]interface{}{}
	if procKeysContents != "" {
		root["proc"] = map[string]interface{}{"keys": procKeysContents}
	}
	if pubkeyContents != nil {
		root["etc"] = map[string]interface{}{"keys": map[string]interface{}{
			path.Base(pubkeyPath): pubkeyContents,
		}}
	}
	fs, cleanup, err := vfst.NewTestFS(root)
	if err != nil {
		t.Fatalf("vfst.NewTestFS: %v", err)
	}
	t.Cleanup(cleanup)
	return fs
}

type fakeKeyAdder struct {
	calls []addKeyCall
	err   error
}

type addKeyCall struct {
	keyType, description string
	payload              []byte
	ringid               int
}

func (a *fakeKeyAdder) AddKey(keyType, description string, payload []byte, ringid int) (int, error) {
	a.calls = append(a.calls, addKeyCall{keyType, description, payload, ringid})
	if a.err != nil {
		return 0, a.err
	}
	return 42, nil
}

func TestLoadVerificationKeyAddsKeyToIMAKeyring(t *testing.T) {
	pubkey := []byte("der-encoded-public-key")
	fs := testFS(t, "/etc/keys/x509_ima.der", pubkey, sampleProcKeys)
	adder := &fakeKeyAdder{}

	id, err := LoadVerificationKey(fs, adder, "/etc/keys/x509_ima.der")
	if err != nil {
		t.Fatalf("LoadVerificationKey: %v", err)
	}
	if id != 42 {
		t.Errorf("got key id %d, want 42", id)
	}
	if len(adder.calls) != 1 {
		t.Fatalf("got %d AddKey calls, want 1", len(adder.calls))
	}
	call := adder.calls[0]
	if call.keyType != "asymmetric" || string(call.payload) != string(pubkey) || call.ringid != 0x1a2b3c4d {
		t.Errorf("unexpected AddKey call: %+v", call)
	}
}

func TestLoadVerificationKeyMissingPubkeyFails(t *testing.T) {
	fs := testFS(t, "/etc/keys/x509_ima.der", nil, sampleProcKeys)
	if _, err := LoadVerificationKey(fs, &fakeKeyAdder{}, "/etc/keys/x509_ima.der"); err == nil {
		t.Fatalf("expected an error for a missing pubkey file")
	}
}

func TestLoadVerificationKeyPropagatesAddKeyFailure(t *testing.T) {
	fs := testFS(t, "/etc/keys/x509_ima.der", []byte("key"), sampleProcKeys)
	adder := &fakeKeyAdder{err: errors.New("permission denied")}
	if _, err := LoadVerificationKey(fs, adder, "/etc/keys/x509_ima.der"); err == nil {
		t.Fatalf("expected AddKey failure to propagate")
	}
}
