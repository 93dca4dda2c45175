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

// Package bootcfg ties the BLS, GRUB and SYSLINUX catalog parsers together:
// given a mountpoint, Discover tries each format in turn and normalizes
// whichever one is found into the shared bootctl.Entry data model. Every
// path an Entry carries is already absolute by the time Discover returns
// it, per the catalog parsers' own eager-resolution convention.
package bootcfg

import (
	"github.com/kexecboot/kexecboot/pkg/bootcfg/bls"
	"github.com/kexecboot/kexecboot/pkg/bootcfg/syslinux"
	"github.com/kexecboot/kexecboot/pkg/bootctl"
	"github.com/kexecboot/kexecboot/pkg/types"
)

// Catalog is a mountpoint's resolved boot catalog, independent of which
// format produced it.
type Catalog struct {
	Timeout      int
	Entries      []bootctl.Entry
	DefaultIndex int
}

// Discover tries BLS, then GRUB, then SYSLINUX, in the order a disk-based
// boot loader probes an unfamiliar mountpoint: BLS is both the most specific
// and the cheapest to rule out (one missing directory), GRUB is tried next
// since a distribution shipping grub.cfg rarely also ships a BLS or
// SYSLINUX catalog, and SYSLINUX is the fallback for legacy media. The
// first format whose catalog is found wins; KindBootConfigNotFound from a
// tried format falls through to the next one, while any other error (a
// malformed catalog, an I/O failure) aborts the search and is returned
// as-is so the caller can skip the whole device.
func Discover(fs types.FS, mountpoint string) (Catalog, error) {
	if cat, err := bls.Parse(fs, mountpoint); err == nil {
		return Catalog{Timeout: cat.Timeout, Entries: cat.Entries, DefaultIndex: cat.DefaultIndex}, nil
	} else if bootctl.KindOf(err) != bootctl.KindBootConfigNotFound {
		return Catalog{}, err
	}

	if cat, err := discoverGrub(fs, mountpoint); err == nil {
		return cat, nil
	} else if bootctl.KindOf(err) != bootctl.KindBootConfigNotFound {
		return Catalog{}, err
	}

	if cat, err := syslinux.Parse(fs, mountpoint); err == nil {
		return Catalog{Timeout: cat.Timeout, Entries: cat.Entries}, nil
	} else if bootctl.KindOf(err) != bootctl.KindBootConfigNotFound {
		return Catalog{}, err
	}

	return Catalog{}, bootctl.New(bootctl.KindBootConfigNotFound, "no recognized boot catalog found")
}
