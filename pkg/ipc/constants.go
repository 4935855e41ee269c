// SPDX-License-Identifier: BSD-3-Clause

// Package ipc declares the NATS subject vocabulary and the small helpers the
// maintenance services share: subject constants for the inventory mutator,
// heartbeat commander, alarm sink, and node endpoints, the typed IPC error
// responses, the ConnProvider contract, and a no-op Stub service used as a
// placeholder when the bus is supplied externally.
package ipc

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/micro"
)

// IPC Subject Constants for NATS Micro Services and plain pub/sub.
// These constants define all the subjects used for inter-process communication
// between the node FSM, the MNFA controller, the BMC executor pool, the secret
// fetcher, and the host watchdog. Services should use these constants rather
// than constructing subjects dynamically.

// Inventory Mutator Subjects (fire-and-forget publish, idempotent on the receiver)
const (
	SubjectInventoryUpdateStates = "maintenance.inventory.update_states"
	SubjectInventoryUpdateTask   = "maintenance.inventory.update_task"
	SubjectInventoryUpdateValue  = "maintenance.inventory.update_value"
)

// Heartbeat Commander Subjects (publish; at-least-once, duplicates must be tolerated)
const (
	SubjectHeartbeatBackoff = "maintenance.heartbeat.backoff"
	SubjectHeartbeatRecover = "maintenance.heartbeat.recover"
	SubjectHeartbeatStart   = "maintenance.heartbeat.start"
	SubjectHeartbeatStop    = "maintenance.heartbeat.stop"
	SubjectHeartbeatRestart = "maintenance.heartbeat.restart"
)

// Heartbeat Ingress Subjects (subscribe; the heartbeat service reports loss
// and recovery per host/interface, feeding mnfa-add-host/mnfa-recover-host)
const (
	SubjectHeartbeatMinor    = "maintenance.heartbeat.minor"
	SubjectHeartbeatRestored = "maintenance.heartbeat.restored"
)

// Alarm/Event Sink Subjects (publish, one token per typed event)
const (
	SubjectAlarmMnfaEnter           = "maintenance.alarm.mnfa-enter"
	SubjectAlarmMnfaExit            = "maintenance.alarm.mnfa-exit"
	SubjectAlarmHostFailed          = "maintenance.alarm.host-failed"
	SubjectAlarmHostDegraded        = "maintenance.alarm.host-degraded"
	SubjectAlarmHostAvailable       = "maintenance.alarm.host-available"
	SubjectAlarmBmcLost             = "maintenance.alarm.bmc-lost"
	SubjectAlarmBmcRestored         = "maintenance.alarm.bmc-restored"
	SubjectAlarmAutoRecoveryDisable = "maintenance.alarm.auto-recovery-disabled"
)

// BMC Executor Subjects (request/reply, one per action submission)
const (
	SubjectBMCExecute = "maintenance.bmc.execute"
	SubjectBMCStatus  = "maintenance.bmc.status"
)

// Secret Fetch Subjects (request/reply)
const (
	SubjectSecretFetch = "maintenance.secret.fetch"
)

// Node FSM Subjects (request/reply, administrative actions against a node)
const (
	SubjectNodeAction = "maintenance.node.action"
	SubjectNodeInfo   = "maintenance.node.info"
	SubjectNodeList   = "maintenance.node.list"
)

// Queue Groups for Load Balancing
const (
	QueueGroupBMCExec   = "bmcexec"
	QueueGroupSecretFetch = "secretfetch"
	QueueGroupNodeMTC   = "nodemtc"
)

// Default Timeouts (in milliseconds)
const (
	DefaultRequestTimeout  = 30000 // 30 seconds
	DefaultCommandTimeout  = 60000 // 60 seconds
	DefaultResponseTimeout = 10000 // 10 seconds
)

// IPC Error Constants
var (
	// Request/Response errors
	ErrMissingRequiredField = NewIPCError("MISSING_REQUIRED_FIELD", "missing required field")
	ErrMarshalingFailed     = NewIPCError("MARSHALING_FAILED", "marshaling failed")
	ErrUnmarshalingFailed   = NewIPCError("UNMARSHALING_FAILED", "unmarshaling failed")
	ErrResponseTimeout      = NewIPCError("RESPONSE_TIMEOUT", "response timeout")

	// Component errors
	ErrComponentNotFound     = NewIPCError("COMPONENT_NOT_FOUND", "component not found")
	ErrInvalidTrigger        = NewIPCError("INVALID_TRIGGER", "invalid trigger")
	ErrStateTransitionFailed = NewIPCError("STATE_TRANSITION_FAILED", "state transition failed")

	// Service errors
	ErrInternalError = NewIPCError("INTERNAL_ERROR", "internal error")
)

// IPCError represents a structured IPC error
type IPCError struct {
	Code    string
	Message string
}

func (e *IPCError) Error() string {
	return e.Message
}

// NewIPCError creates a new IPC error
func NewIPCError(code, message string) *IPCError {
	return &IPCError{
		Code:    code,
		Message: message,
	}
}

// ParseSubject splits a subject into group and endpoint components for NATS micro registration.
// For subjects like "maintenance.bmc.execute" it returns group="maintenance.bmc" and endpoint="execute".
func ParseSubject(subject string) (group, endpoint string, err error) {
	if subject == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "subject cannot be empty")
	}

	idx := strings.LastIndex(subject, ".")
	if idx <= 0 || idx == len(subject)-1 {
		return "", "", NewIPCError("INVALID_SUBJECT", fmt.Sprintf("subject %s must contain at least one dot with non-empty components", subject))
	}

	group = strings.TrimSpace(subject[:idx])
	endpoint = strings.TrimSpace(subject[idx+1:])

	if group == "" || endpoint == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", fmt.Sprintf("subject %s has an empty group or endpoint component", subject))
	}

	return group, endpoint, nil
}

// RegisterEndpointWithGroupCache registers an endpoint by parsing the IPC subject and managing group creation.
// This helper reduces boilerplate by automatically creating and caching groups as needed.
func RegisterEndpointWithGroupCache(service micro.Service, subject string, handler micro.Handler, groups map[string]micro.Group) error {
	groupName, endpointName, err := ParseSubject(subject)
	if err != nil {
		return fmt.Errorf("failed to parse subject %s: %w", subject, err)
	}

	group, exists := groups[groupName]
	if !exists {
		group = service.AddGroup(groupName)
		groups[groupName] = group
	}

	if err := group.AddEndpoint(endpointName, handler); err != nil {
		return fmt.Errorf("failed to register endpoint %s in group %s: %w", endpointName, groupName, err)
	}

	return nil
}
