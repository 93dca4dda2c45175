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

package mount_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	mountutils "k8s.io/mount-utils"

	"github.com/kexecboot/kexecboot/pkg/mount"
	"github.com/kexecboot/kexecboot/pkg/types"
)

func writeFakeExt4(path string) {
	buf := make([]byte, 70*1024)
	binary.LittleEndian.PutUint16(buf[0x400+0x38:], 0xEF53)
	copy(buf[0x400+0x78:], "root")
	Expect(os.WriteFile(path, buf, 0o644)).To(Succeed())
}

var _ = Describe("Manager", func() {
	var (
		dir     string
		fakeMnt *mountutils.FakeMounter
		mgr     *mount.Manager
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "kexecboot-mount-*")
		Expect(err).NotTo(HaveOccurred())
		fakeMnt = mountutils.NewFakeMounter(nil)
		mgr = mount.NewManager(types.NewNullLogger(), types.OSFS{}, fakeMnt)
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("mounts the partitions it can probe and skips the rest", func() {
		good := filepath.Join(dir, "sda1")
		bad := filepath.Join(dir, "sda2")
		writeFakeExt4(good)
		Expect(os.WriteFile(bad, []byte("not a filesystem"), 0o644)).To(Succeed())

		bindings := mgr.MountPartitions("42", []string{good, bad})

		Expect(bindings).To(HaveLen(1))
		Expect(bindings[0].Partition).To(Equal(good))
		Expect(bindings[0].Mountpoint).To(Equal(mount.MountpointFor("42", good)))
		Expect(mgr.Bindings()).To(HaveLen(1))
	})

	It("releases every mountpoint it created on UnmountAll", func() {
		good := filepath.Join(dir, "sda1")
		writeFakeExt4(good)
		mgr.MountPartitions("42", []string{good})
		Expect(mgr.Bindings()).To(HaveLen(1))

		Expect(mgr.UnmountAll()).To(Succeed())

		Expect(mgr.Bindings()).To(BeEmpty())
		mountPoints, err := fakeMnt.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(mountPoints).To(BeEmpty())
	})
})
