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

// Package mount mounts candidate boot partitions read-only under stable
// paths and guarantees every mount it creates is released before handover.
package mount

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	mountutils "k8s.io/mount-utils"

	"github.com/kexecboot/kexecboot/pkg/fsprobe"
	"github.com/kexecboot/kexecboot/pkg/types"
)

const baseDiskMountPath = "/mnt/disk"

// Binding is one mounted partition.
type Binding struct {
	Partition  string
	Mountpoint string
	Info       fsprobe.Info
}

// Manager owns every mountpoint it creates; it is the only component
// permitted to unmount them.
type Manager struct {
	logger  types.Logger
	fs      types.FS
	mounter mountutils.Interface

	bindings []Binding
}

// NewManager constructs a Manager. mounter is typically mountutils.New("")
// in production and a mountutils.FakeMounter in tests.
func NewManager(logger types.Logger, fs types.FS, mounter mountutils.Interface) *Manager {
	return &Manager{logger: logger, fs: fs, mounter: mounter}
}

// MountpointFor derives this manager's deterministic mountpoint for a disk:
// /mnt/disk/<diskseq> when the kernel reports one, otherwise a stable slug
// of the partition's device path so a re-plugged device without a diskseq
// still lands at the same place.
func MountpointFor(diskseq, partitionPath string) string {
	if diskseq != "" {
		return filepath.Join(baseDiskMountPath, diskseq)
	}
	sum := sha256.Sum256([]byte(partitionPath))
	return filepath.Join(baseDiskMountPath, hex.EncodeToString(sum[:])[:16])
}

// MountPartitions probes and mounts each partition of a newly arrived disk
// read-only. A mount failure on one partition is non-fatal; the rest are
// still tried. Returns only the successfully mounted bindings — an empty
// result means this disk contributes no BootDevice.
func (m *Manager) MountPartitions(diskseq string, partitions []string) []Binding {
	var mounted []Binding
	for _, partition := range partitions {
		info, err := fsprobe.ProbeFile(m.fs, partition)
		if err != nil {
			m.logger.Debugf("skipping %s: %v", partition, err)
			continue
		}

		mountpoint := MountpointFor(diskseq, partition)
		if err := m.fs.MkdirAll(mountpoint, 0o755); err != nil {
			m.logger.Warnf("failed to create mountpoint %s: %v", mountpoint, err)
			continue
		}

		options := []string{"ro", "nosuid", "nodev", "noexec"}
		if err := m.mounter.Mount(partition, mountpoint, info.Kind.String(), options); err != nil {
			m.logger.Warnf("failed to mount %s at %s: %v", partition, mountpoint, err)
			continue
		}

		binding := Binding{Partition: partition, Mountpoint: mountpoint, Info: info}
		m.bindings = append(m.bindings, binding)
		mounted = append(mounted, binding)
	}
	return mounted
}

// UnmountAll releases every mountpoint this manager created, in insertion
// order, forcing the unmount when the mounter supports forced unmounting
// and using a plain unmount otherwise; no lazy (MNT_DETACH) unmount is
// done, so a busy mountpoint stays mounted. A failed unmount is logged but never
// stops the remaining unmounts — the coming kexec load will destroy the
// mount namespace anyway. Every failure is still aggregated and returned so
// a caller that cares (unlike the fire-and-forget kexec path) can act on it.
func (m *Manager) UnmountAll() error {
	var errs error
	for _, b := range m.bindings {
		if err := m.unmountOne(b.Mountpoint); err != nil {
			m.logger.Warnf("failed to unmount %s: %v", b.Mountpoint, err)
			errs = multierror.Append(errs, fmt.Errorf("unmount %s: %w", b.Mountpoint, err))
		}
	}
	m.bindings = nil
	return errs
}

func (m *Manager) unmountOne(mountpoint string) error {
	if fu, ok := m.mounter.(mountutils.MounterForceUnmounter); ok {
		return fu.UnmountWithForce(mountpoint)
	}
	return m.mounter.Unmount(mountpoint)
}

// Bindings returns an immutable snapshot of currently tracked mounts, the
// form the selection state machine reads mountpoints through.
func (m *Manager) Bindings() []Binding {
	out := make([]Binding, len(m.bindings))
	copy(out, m.bindings)
	return out
}

