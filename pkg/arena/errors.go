// SPDX-License-Identifier: BSD-3-Clause

package arena

import "errors"

var (
	// ErrDuplicateHostname indicates an Add call for a hostname already in the arena.
	ErrDuplicateHostname = errors.New("node hostname already present in arena")
	// ErrNodeNotFound indicates a lookup or removal for a hostname not in the arena.
	ErrNodeNotFound = errors.New("node not found in arena")
)
