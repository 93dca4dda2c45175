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

package eval

import (
	"strconv"
	"strings"

	"github.com/kexecboot/kexecboot/pkg/types"
)

// Test exit codes: 0 true, 1 false, 2 invalid arguments.
const (
	TestTrue    = 0
	TestFalse   = 1
	TestInvalid = 2
)

// EvalTest implements the "test"/"[" built-in's truth table (spec §4.7): a
// 1-argument non-empty check, 2-argument file and string predicates, and
// 3-argument string/integer/prefix-stripped-integer/mtime comparisons.
func EvalTest(fs types.FS, args []string) int {
	switch len(args) {
	case 1:
		if args[0] != "" {
			return TestTrue
		}
		return TestFalse
	case 2:
		return evalTest2(fs, args[0], args[1])
	case 3:
		return evalTest3(fs, args[0], args[1], args[2])
	default:
		return TestInvalid
	}
}

func evalTest2(fs types.FS, op, arg string) int {
	switch op {
	case "-d":
		info, err := fs.Stat(arg)
		return boolCode(err == nil && info.IsDir())
	case "-e":
		_, err := fs.Stat(arg)
		return boolCode(err == nil)
	case "-f":
		info, err := fs.Stat(arg)
		return boolCode(err == nil && !info.IsDir())
	case "-s":
		info, err := fs.Stat(arg)
		return boolCode(err == nil && info.Size() > 0)
	case "-n":
		return boolCode(arg != "")
	case "-z":
		return boolCode(arg == "")
	default:
		return TestInvalid
	}
}

func evalTest3(fs types.FS, lhs, op, rhs string) int {
	switch op {
	case "=", "==":
		return boolCode(lhs == rhs)
	case "!=":
		return boolCode(lhs != rhs)
	case "<":
		return boolCode(lhs < rhs)
	case "<=":
		return boolCode(lhs <= rhs)
	case ">":
		return boolCode(lhs > rhs)
	case ">=":
		return boolCode(lhs >= rhs)
	case "-eq", "-ge", "-gt", "-le", "-lt", "-ne":
		return evalIntCompare(op, lhs, rhs, parseInt)
	case "-pgt", "-plt":
		return evalPrefixStrippedCompare(op, lhs, rhs)
	case "-nt", "-ot":
		return evalMtimeCompare(fs, op, lhs, rhs)
	default:
		return TestInvalid
	}
}

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func evalIntCompare(op, lhs, rhs string, parse func(string) (int64, bool)) int {
	a, ok1 := parse(lhs)
	b, ok2 := parse(rhs)
	if !ok1 || !ok2 {
		return TestInvalid
	}
	switch op {
	case "-eq":
		return boolCode(a == b)
	case "-ge":
		return boolCode(a >= b)
	case "-gt":
		return boolCode(a > b)
	case "-le":
		return boolCode(a <= b)
	case "-lt":
		return boolCode(a < b)
	case "-ne":
		return boolCode(a != b)
	default:
		return TestInvalid
	}
}

// stripAlphaPrefix removes a leading run of ASCII letters.
func stripAlphaPrefix(s string) string {
	i := 0
	for i < len(s) && ((s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z')) {
		i++
	}
	return s[i:]
}

func evalPrefixStrippedCompare(op, lhs, rhs string) int {
	a, ok1 := parseInt(stripAlphaPrefix(lhs))
	b, ok2 := parseInt(stripAlphaPrefix(rhs))
	if !ok1 || !ok2 {
		return TestInvalid
	}
	switch op {
	case "-pgt":
		return boolCode(a > b)
	case "-plt":
		return boolCode(a < b)
	default:
		return TestInvalid
	}
}

func evalMtimeCompare(fs types.FS, op, lhs, rhs string) int {
	a, err1 := fs.Stat(lhs)
	b, err2 := fs.Stat(rhs)
	if err1 != nil || err2 != nil {
		return TestInvalid
	}
	switch op {
	case "-nt":
		return boolCode(a.ModTime().After(b.ModTime()))
	case "-ot":
		return boolCode(a.ModTime().Before(b.ModTime()))
	default:
		return TestInvalid
	}
}

func boolCode(b bool) int {
	if b {
		return TestTrue
	}
	return TestFalse
}
