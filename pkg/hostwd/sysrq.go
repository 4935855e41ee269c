// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import (
	"os"
)

// triggerCrashDump performs the sysrq crash-dump sequence: enable sysrq
// handling, then request a crash via the 'c' trigger. Both writes are best
// effort; a failure on either means crash-dump is unsupported on this
// kernel, which the caller treats as "skip and continue declaring
// unhealthy" rather than a fatal error.
func triggerCrashDump(enablePath, triggerPath string) error {
	if err := os.WriteFile(enablePath, []byte("1"), 0); err != nil {
		return err
	}
	return os.WriteFile(triggerPath, []byte("c"), 0)
}

// emergencyLog mirrors a line to the console device, best effort. The
// console device is typically write-only and unbuffered; a failed write
// here must never block or fail the declare-unhealthy sequence it is part of.
func emergencyLog(consolePath, line string) {
	f, err := os.OpenFile(consolePath, os.O_WRONLY, 0)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line + "\n")
}
