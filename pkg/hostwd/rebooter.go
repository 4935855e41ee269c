// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Rebooter performs the two reboot actions the declare-unhealthy sequence
// arms timers for. It is an interface so tests can substitute a recording
// stub instead of actually rebooting the test host.
type Rebooter interface {
	// GracefulReboot asks the running init system to reboot cooperatively.
	GracefulReboot(ctx context.Context) error
	// ForceReboot issues an immediate kernel-level restart, bypassing init.
	ForceReboot(ctx context.Context) error
}

// systemRebooter is the production Rebooter: a graceful reboot is shelled
// out to the init system exactly like the BMC executor shells out to its
// out-of-band tools (context-scoped os/exec, non-zero exit mapped to an
// error), and a forced reboot calls the reboot(2) syscall directly.
type systemRebooter struct{}

func (systemRebooter) GracefulReboot(ctx context.Context) error {
	return exec.CommandContext(ctx, "systemctl", "reboot").Run()
}

func (systemRebooter) ForceReboot(context.Context) error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
