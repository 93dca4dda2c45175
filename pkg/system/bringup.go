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

// Package system handles the daemon's one-time startup sequence (C16):
// mounting the pseudo-filesystems the rest of the daemon assumes are
// already present, loading the verification key into the kernel's IMA
// keyring and writing its policy, and dropping root for the UI client.
package system

import (
	"fmt"

	mountutils "k8s.io/mount-utils"

	"github.com/kexecboot/kexecboot/pkg/types"
)

// PseudoMount describes one pseudo-filesystem the daemon mounts at
// startup before anything else touches /proc, /sys, or /dev/pts.
type PseudoMount struct {
	Source  string
	Target  string
	FSType  string
	Options []string
}

// DefaultPseudoMounts lists the mounts C1-C3 and the IMA bootstrap assume
// are already in place: proc and sysfs for device enumeration and
// /proc/cmdline, devpts for the console, and securityfs for
// /sys/kernel/security/ima/policy.
func DefaultPseudoMounts() []PseudoMount {
	return []PseudoMount{
		{Source: "proc", Target: "/proc", FSType: "proc", Options: []string{"nosuid", "noexec", "nodev"}},
		{Source: "sysfs", Target: "/sys", FSType: "sysfs", Options: []string{"nosuid", "noexec", "nodev"}},
		{Source: "devpts", Target: "/dev/pts", FSType: "devpts", Options: []string{"nosuid", "noexec"}},
		{Source: "securityfs", Target: "/sys/kernel/security", FSType: "securityfs", Options: []string{"nosuid", "noexec", "nodev"}},
	}
}

// MountPseudoFilesystems mounts every entry in mounts, in order, stopping
// at the first failure since later mounts (securityfs under /sys) depend
// on earlier ones (/sys itself) having succeeded.
func MountPseudoFilesystems(mounter mountutils.Interface, mounts []PseudoMount) error {
	for _, m := range mounts {
		if err := mounter.Mount(m.Source, m.Target, m.FSType, m.Options); err != nil {
			return fmt.Errorf("mounting %s at %s: %w", m.FSType, m.Target, err)
		}
	}
	return nil
}

// Bringup sequences C16's one-time startup steps. Built with functional
// options so callers (cmd/tbootd and its tests) can swap any dependency
// for a fake.
type Bringup struct {
	mounter    mountutils.Interface
	fs         types.FS
	keyAdder   KeyAdder
	pubkeyPath string
	policyPath string
	mounts     []PseudoMount
}

// BringupOption configures a Bringup.
type BringupOption func(*Bringup) error

func WithMounter(mounter mountutils.Interface) BringupOption {
	return func(b *Bringup) error {
		b.mounter = mounter
		return nil
	}
}

func WithFS(fs types.FS) BringupOption {
	return func(b *Bringup) error {
		b.fs = fs
		return nil
	}
}

func WithKeyAdder(adder KeyAdder) BringupOption {
	return func(b *Bringup) error {
		b.keyAdder = adder
		return nil
	}
}

func WithVerificationKeyPath(path string) BringupOption {
	return func(b *Bringup) error {
		b.pubkeyPath = path
		return nil
	}
}

func WithIMAPolicyPath(path string) BringupOption {
	return func(b *Bringup) error {
		b.policyPath = path
		return nil
	}
}

func WithPseudoMounts(mounts []PseudoMount) BringupOption {
	return func(b *Bringup) error {
		b.mounts = mounts
		return nil
	}
}

// NewBringup builds a Bringup with DefaultPseudoMounts and
// DefaultIMAPolicyPath, overridden by opts.
func NewBringup(opts ...BringupOption) (*Bringup, error) {
	b := &Bringup{
		mounts:     DefaultPseudoMounts(),
		policyPath: DefaultIMAPolicyPath,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Run executes the startup sequence: mount pseudo-filesystems, then (if a
// verification key path was configured) load the key into the .ima keyring
// and write the IMA policy with appraise rules enabled; otherwise write
// the policy without appraise rules, since the kernel will refuse a second
// write later once a key does become available.
func (b *Bringup) Run() error {
	if b.mounter != nil {
		if err := MountPseudoFilesystems(b.mounter, b.mounts); err != nil {
			return err
		}
	}

	keyLoaded := false
	if b.pubkeyPath != "" {
		if _, err := LoadVerificationKey(b.fs, b.keyAdder, b.pubkeyPath); err != nil {
			return fmt.Errorf("loading verification key: %w", err)
		}
		keyLoaded = true
	}

	policy := BuildIMAPolicy(keyLoaded)
	if err := WriteIMAPolicy(b.fs, b.policyPath, policy); err != nil {
		return fmt.Errorf("writing IMA policy: %w", err)
	}
	return nil
}
