// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Linux watchdog ioctl numbers (<linux/watchdog.h>). golang.org/x/sys/unix
// does not export these -- they are not part of the generic syscall table --
// so they are computed once here from the kernel's _IOR/_IOWR encoding
// rather than hand-guessed: base 'W' (0x57), int-sized (4 byte) argument.
const (
	wdiocKeepalive  = 0x80045705 // _IOR('W', 5, int)
	wdiocSetTimeout = 0xc0045706 // _IOWR('W', 6, int)
	wdiocSetOptions = 0x80045704 // _IOR('W', 4, int)

	wdiosDisableCard = 0x0001
)

// kernelWatchdog wraps the /dev/watchdog character device: one ioctl to set
// the kernel-side timeout, one ioctl per pet, and a single magic byte write
// before close to disarm it cleanly instead of leaving it to fire.
type kernelWatchdog struct {
	f *os.File
}

func openKernelWatchdog(path string, timeoutSeconds int) (*kernelWatchdog, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrWatchdogUnsupported, path, err)
	}

	if err := unix.IoctlSetInt(int(f.Fd()), wdiocSetTimeout, timeoutSeconds); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: set timeout: %w", ErrWatchdogUnsupported, err)
	}

	return &kernelWatchdog{f: f}, nil
}

// pet sends the keepalive ioctl, resetting the kernel's own countdown.
func (k *kernelWatchdog) pet() error {
	return unix.IoctlSetInt(int(k.f.Fd()), wdiocKeepalive, 0)
}

// disarm writes the magic close byte "V" and closes the device. Some
// watchdog drivers are compiled nowayout and ignore both the byte and the
// disable-card option; in that case the device keeps ticking as a
// last-resort reset, which is the documented failure mode, not a bug here.
func (k *kernelWatchdog) disarm() error {
	_ = unix.IoctlSetInt(int(k.f.Fd()), wdiocSetOptions, wdiosDisableCard)
	_, werr := k.f.Write([]byte{'V'})
	cerr := k.f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// leaveTicking closes the descriptor without the magic byte, so the kernel
// watchdog continues counting down as the system's last-resort reset.
func (k *kernelWatchdog) leaveTicking() error {
	return k.f.Close()
}
