// SPDX-License-Identifier: BSD-3-Clause

package bmc

import "errors"

var (
	// ErrNoActionVerb indicates neither graceful nor immediate variants of
	// an action are available from the cached action-verb table.
	ErrNoActionVerb = errors.New("no action verb available for command")
	// ErrIncompatibleVersion indicates a redfish root query declared a
	// version below the configured minimum, so ipmi is used instead.
	ErrIncompatibleVersion = errors.New("redfish version below configured minimum")
	// ErrExecutorClosed indicates a request was submitted after Close.
	ErrExecutorClosed = errors.New("bmc executor closed")
	// ErrPersistentFailure indicates retry attempts were exhausted.
	ErrPersistentFailure = errors.New("bmc command failed persistently")
	// ErrUnknownProtocol indicates a request carries a protocol selector
	// this executor has no client registered for.
	ErrUnknownProtocol = errors.New("unknown bmc protocol")
	// ErrCredentialFileCreate indicates the ephemeral credential file could
	// not be created.
	ErrCredentialFileCreate = errors.New("failed to create bmc credential file")
	// ErrCredentialFileWrite indicates the ephemeral credential file could
	// not be written.
	ErrCredentialFileWrite = errors.New("failed to write bmc credential file")
	// ErrToolStart indicates the out-of-band CLI tool could not be started.
	ErrToolStart = errors.New("failed to start bmc tool process")
	// ErrToolExit indicates the out-of-band CLI tool exited non-zero.
	ErrToolExit = errors.New("bmc tool process exited with an error")
)
