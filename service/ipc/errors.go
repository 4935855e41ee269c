// SPDX-License-Identifier: BSD-3-Clause

package ipc

import "errors"

var (
	// ErrInvalidConfiguration indicates the service configuration failed validation.
	ErrInvalidConfiguration = errors.New("invalid ipc service configuration")
	// ErrInvalidServerName indicates an empty or invalid server name.
	ErrInvalidServerName = errors.New("invalid server name")
	// ErrInvalidTimeout indicates a non-positive startup or shutdown timeout.
	ErrInvalidTimeout = errors.New("invalid timeout value")
	// ErrStorageDirInvalid indicates JetStream was enabled without a storage directory.
	ErrStorageDirInvalid = errors.New("invalid storage directory")
	// ErrServerCreationFailed indicates NATS server construction failed.
	ErrServerCreationFailed = errors.New("failed to create nats server")
	// ErrServerTimeout indicates the server did not become ready in time.
	ErrServerTimeout = errors.New("nats server operation timeout")
	// ErrServerNotReady indicates the server is not ready for connections.
	ErrServerNotReady = errors.New("nats server not ready for connections")
	// ErrConnectionNotAvailable indicates no server is available to connect to.
	ErrConnectionNotAvailable = errors.New("connection not available")
	// ErrInProcessConnFailed indicates in-process connection creation failed.
	ErrInProcessConnFailed = errors.New("failed to create in-process connection")
)
