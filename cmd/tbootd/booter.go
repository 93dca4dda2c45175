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

package main

import (
	"crypto/ed25519"
	"crypto/x509"
	"fmt"

	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/kexec"
	"github.com/kexecboot/kexecboot/pkg/log"
	"github.com/kexecboot/kexecboot/pkg/tpm"
	"github.com/kexecboot/kexecboot/pkg/types"
	"github.com/kexecboot/kexecboot/pkg/verify"
)

// daemonBooter implements selector.Booter by composing pkg/verify,
// pkg/tpm, and pkg/kexec in the fixed order verified boot requires:
// signature check first (fatal on failure, "verified boot or no boot"),
// PCR measurement next (logged, never fatal), then the kexec_file_load
// that actually stages the kernel.
type daemonBooter struct {
	fs        types.FS
	logger    log.Logger
	publicKey ed25519.PublicKey // nil when verification is not configured
	ext       tpm.Extender      // nil when no TPM device is available
}

func (b *daemonBooter) Boot(entry bootctl.Entry) error {
	var fingerprint string
	if b.publicKey != nil {
		fp, err := verify.VerifyFile(b.fs, b.publicKey, entry.Kernel)
		if err != nil {
			return err
		}
		fingerprint = fp
		if entry.Initrd != "" {
			if _, err := verify.VerifyFile(b.fs, b.publicKey, entry.Initrd); err != nil {
				return err
			}
		}
	}

	if b.ext != nil {
		if err := tpm.MeasureBoot(b.ext, b.fs, fingerprint, entry.Cmdline, entry.Kernel, entry.Initrd); err != nil {
			// KindMeasurementFailed is never fatal; a TPM that can't be
			// extended must not stop an otherwise verified boot.
			b.logger.Warnf("TPM measurement failed, continuing: %v", err)
		}
	}

	return kexec.Load(b.fs, entry.Kernel, entry.Initrd, entry.Cmdline)
}

// loadVerificationKey extracts the Ed25519 public key pkg/verify checks
// detached signatures against from path. The file is the same x509 DER
// blob loaded into the kernel's IMA keyring (pkg/system.LoadVerificationKey
// uses it raw), so it is tried first as a full certificate and, failing
// that, as a bare SubjectPublicKeyInfo.
func loadVerificationKey(fs types.FS, path string) (ed25519.PublicKey, error) {
	der, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading verification key %s: %w", path, err)
	}

	if cert, err := x509.ParseCertificate(der); err == nil {
		if pub, ok := cert.PublicKey.(ed25519.PublicKey); ok {
			return pub, nil
		}
		return nil, fmt.Errorf("%s: certificate public key is not Ed25519", path)
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing verification key %s: %w", path, err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s: public key is not Ed25519", path)
	}
	return edPub, nil
}
