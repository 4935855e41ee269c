// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import "errors"

var (
	// ErrInvalidConfig indicates a nil dependency or out-of-range option was
	// supplied to New.
	ErrInvalidConfig = errors.New("invalid host watchdog configuration")
	// ErrQuorumFailure indicates the grace counter was exhausted or a
	// pmon-crit datagram was received while enforcement was active.
	ErrQuorumFailure = errors.New("process monitor quorum lost")
	// ErrWatchdogUnsupported indicates the kernel watchdog device could not
	// be opened or does not accept the configured timeout.
	ErrWatchdogUnsupported = errors.New("kernel watchdog unsupported")
	// ErrOversizedDatagram indicates a PMON message exceeded the expected
	// wire size and was rejected without touching the grace counter.
	ErrOversizedDatagram = errors.New("oversized pmon datagram")
)
