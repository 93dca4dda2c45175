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
	"github.com/kexecboot/kexecboot/pkg/bootcfg"
	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/diskinfo"
	"github.com/kexecboot/kexecboot/pkg/log"
	"github.com/kexecboot/kexecboot/pkg/mount"
	"github.com/kexecboot/kexecboot/pkg/types"
	"github.com/kexecboot/kexecboot/pkg/uevent"
)

// runDeviceLoop turns "add" uevents for whole disks into bootctl.Device
// values fed to daemon: mount every candidate partition, discover a boot
// catalog on each mountpoint, and submit the result. A disk that mounts no
// partitions, or mounts partitions with no recognized catalog, never
// reaches the selection state machine. Returns only when the uevent
// listener itself fails or is stopped.
func runDeviceLoop(logger log.Logger, fs types.FS, mgr *mount.Manager, daemon *Daemon) error {
	listener, err := uevent.NewListener(logger, fs)
	if err != nil {
		return err
	}
	defer listener.Close()

	events := make(chan uevent.Event)
	errCh := make(chan error, 1)
	go func() {
		errCh <- listener.Run(events)
		close(events)
	}()

	for ev := range events {
		diskseq, ok := ev.IsMountableDisk()
		if !ok {
			continue
		}

		disk := diskinfo.Describe(fs, ev.DevName)
		bindings := mgr.MountPartitions(diskseq, disk.Partitions)
		if len(bindings) == 0 {
			logger.Debugf("no mountable partitions on %s", ev.DevName)
			continue
		}

		dev, ok := buildDevice(fs, logger, diskseq, disk, bindings)
		if !ok {
			logger.Infof("%s has no recognized boot catalog, ignoring", disk.Name)
			continue
		}
		daemon.SubmitDevice(dev)
	}
	return <-errCh
}

// buildDevice discovers a boot catalog on every mounted partition of a
// disk and folds the results into a single bootctl.Device. A disk rarely
// carries more than one catalog, but when it does (e.g. an ESP and a BLS
// partition on the same media) every entry is kept, and the first
// catalog's default is preserved.
func buildDevice(fs types.FS, logger log.Logger, diskseq string, disk diskinfo.Disk, bindings []mount.Binding) (bootctl.Device, bool) {
	mounts := make(map[string]string, len(bindings))
	var entries []bootctl.Entry
	defaultIndex := 0
	timeout := 0
	haveCatalog := false

	for _, b := range bindings {
		mounts[b.Partition] = b.Mountpoint

		cat, err := bootcfg.Discover(fs, b.Mountpoint)
		if err != nil {
			if bootctl.KindOf(err) != bootctl.KindBootConfigNotFound {
				logger.Warnf("catalog discovery failed on %s: %v", b.Mountpoint, err)
			}
			continue
		}

		if !haveCatalog {
			defaultIndex = len(entries) + cat.DefaultIndex
		}
		haveCatalog = true
		entries = append(entries, cat.Entries...)
		if cat.Timeout > timeout {
			timeout = cat.Timeout
		}
	}

	if !haveCatalog || len(entries) == 0 {
		return bootctl.Device{}, false
	}
	return bootctl.Device{
		Name:         disk.Name,
		Removable:    disk.Removable,
		Timeout:      timeout,
		Mounts:       mounts,
		Entries:      entries,
		DefaultIndex: defaultIndex,
		DiskSeq:      diskseq,
	}, true
}
