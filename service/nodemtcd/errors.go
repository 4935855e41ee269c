// SPDX-License-Identifier: BSD-3-Clause

package nodemtcd

import "errors"

var (
	// ErrUnknownAction indicates a node.action request named an action
	// string with no matching mtctypes.AdminAction.
	ErrUnknownAction = errors.New("unknown node action")
	// ErrServiceAlreadyRunning indicates Run was called twice concurrently.
	ErrServiceAlreadyRunning = errors.New("nodemtcd service already running")
	// ErrIPCConnNil indicates Run was called without an IPC connection provider.
	ErrIPCConnNil = errors.New("nodemtcd: nil ipc connection provider")
	// ErrIPCConnectionFailed indicates the in-process NATS connection could not be established.
	ErrIPCConnectionFailed = errors.New("nodemtcd: ipc connection failed")
)
