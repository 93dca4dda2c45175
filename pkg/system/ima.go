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

	"github.com/kexecboot/kexecboot/pkg/types"
)

// DefaultIMAPolicyPath is where the kernel's IMA subsystem reads its policy
// from; it accepts exactly one write per boot.
const DefaultIMAPolicyPath = "/sys/kernel/security/ima/policy"

// doNotMeasureRules excludes pseudo-filesystems from IMA measurement by
// their magic number, per §6: none of these can carry an executable or
// configuration file worth measuring, and measuring them is expensive.
var doNotMeasureRules = []string{
	"dont_measure fsmagic=0x9fa0",     // proc
	"dont_measure fsmagic=0x62656572", // sysfs
	"dont_measure fsmagic=0x64626720", // debugfs
	"dont_measure fsmagic=0x1021994",  // tmpfs
	"dont_measure fsmagic=0x1cd1",     // devpts
	"dont_measure fsmagic=0x42494e4d", // binfmt_misc
	"dont_measure fsmagic=0x73636673", // securityfs
	"dont_measure fsmagic=0xf97cff8c", // selinuxfs
	"dont_measure fsmagic=0x43415d53", // smackfs
	"dont_measure fsmagic=0x27e0eb",   // cgroupfs
	"dont_measure fsmagic=0x63677270", // cgroup2fs
	"dont_measure fsmagic=0x6e736673", // nsfs
}

// measureRules feed PCRs 7 (key/policy), 8 (kexec'd kernel image), 9
// (kexec'd initramfs) and 12 (kexec command line), independent of the in-process measurements
// pkg/tpm performs: these fire from inside the kernel's own
// kexec_file_load/finit_module/security hooks, giving a second,
// kernel-enforced measurement of the same material.
var measureRules = []string{
	"measure func=KEY_CHECK pcr=7",
	"measure func=POLICY_CHECK pcr=7",
	"measure func=KEXEC_KERNEL_CHECK pcr=8",
	"measure func=KEXEC_INITRAMFS_CHECK pcr=9",
	"measure func=KEXEC_CMDLINE pcr=12",
}

// appraiseRules reject a kexec_file_load of an unsigned or badly signed
// kernel/initramfs at the kernel level; they only take effect once a
// verification key has been loaded into the .ima keyring (LoadVerificationKey
// must run first) since an appraise rule with no trusted key to check
// against makes every kexec_file_load fail closed.
var appraiseRules = []string{
	"appraise func=KEXEC_KERNEL_CHECK appraise_type=imasig|modsig",
	"appraise func=KEXEC_INITRAMFS_CHECK appraise_type=imasig|modsig",
}

// BuildIMAPolicy assembles the fixed policy text: do-not-measure rules,
// then measure rules, then (only once a key has been loaded) appraise
// rules, one rule per line.
func BuildIMAPolicy(keyLoaded bool) string {
	rules := make([]string, 0, len(doNotMeasureRules)+len(measureRules)+len(appraiseRules))
	rules = append(rules, doNotMeasureRules...)
	rules = append(rules, measureRules...)
	if keyLoaded {
		rules = append(rules, appraiseRules...)
	}
	return strings.Join(rules, "\n") + "\n"
}

// WriteIMAPolicy writes policy to path. The kernel only accepts a single
// write per boot to this file; a second write fails and that failure is
// reported to the caller rather than silently ignored.
func WriteIMAPolicy(fs types.FS, path, policy string) error {
	return fs.WriteFile(path, []byte(policy), 0o600)
}
