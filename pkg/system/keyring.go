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
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/kexecboot/kexecboot/pkg/types"
)

// defaultProcKeysPath is where the kernel lists every key and keyring
// visible to the calling process, one per line.
const defaultProcKeysPath = "/proc/keys"

// imaKeyringName is the trusted keyring IMA's appraise rules check loaded
// keys against; it is created by the kernel itself when
// CONFIG_IMA_TRUSTED_KEYRING is set, never by userspace.
const imaKeyringName = ".ima"

// KeyAdder is the narrow add_key surface LoadVerificationKey needs,
// satisfied by golang.org/x/sys/unix.AddKey in production and by a fake in
// tests, since add_key is a real syscall with no userspace simulation.
type KeyAdder interface {
	AddKey(keyType, description string, payload []byte, ringid int) (int, error)
}

type unixKeyAdder struct{}

func (unixKeyAdder) AddKey(keyType, description string, payload []byte, ringid int) (int, error) {
	return unix.AddKey(keyType, description, payload, ringid)
}

// NewKeyAdder returns the production KeyAdder.
func NewKeyAdder() KeyAdder { return unixKeyAdder{} }

// FindIMAKeyring locates the ".ima" keyring's ID in the /proc/keys listing.
// Columns, whitespace-separated: serial, flags, usage, timeout, perm, uid,
// gid, type, description (the description carries a trailing ':' for
// keyrings).
func FindIMAKeyring(contents string) (int, error) {
	for _, line := range strings.Split(contents, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		keyType := fields[7]
		description := strings.TrimSuffix(fields[8], ":")
		if keyType != "keyring" || description != imaKeyringName {
			continue
		}
		id, err := strconv.ParseInt(fields[0], 16, 64)
		if err != nil {
			continue
		}
		return int(id), nil
	}
	return 0, fmt.Errorf("%s keyring not found in %s", imaKeyringName, defaultProcKeysPath)
}

// LoadVerificationKey reads the DER-encoded public key at pubkeyPath,
// locates the kernel's .ima keyring via /proc/keys, and adds the key to it,
// so the kernel's IMA appraise rules (added by BuildIMAPolicy once
// keyLoaded=true) have something to check signatures against. Must run
// before WriteIMAPolicy(..., keyLoaded=true).
func LoadVerificationKey(fs types.FS, adder KeyAdder, pubkeyPath string) (int, error) {
	pubkey, err := fs.ReadFile(pubkeyPath)
	if err != nil {
		return 0, fmt.Errorf("reading verification key %s: %w", pubkeyPath, err)
	}

	procKeys, err := fs.ReadFile(defaultProcKeysPath)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", defaultProcKeysPath, err)
	}
	imaKeyringID, err := FindIMAKeyring(string(procKeys))
	if err != nil {
		return 0, err
	}

	keyID, err := adder.AddKey("asymmetric", "", pubkey, imaKeyringID)
	if err != nil {
		return 0, fmt.Errorf("adding verification key to %s keyring: %w", imaKeyringName, err)
	}
	return keyID, nil
}
