// SPDX-License-Identifier: BSD-3-Clause

package fsm

import "errors"

var (
	// ErrInvalidConfig indicates a nil dependency was supplied to New.
	ErrInvalidConfig = errors.New("invalid node fsm configuration")
	// ErrUnknownHost indicates an operation was requested against a
	// hostname not present in the arena.
	ErrUnknownHost = errors.New("unknown host")
)
