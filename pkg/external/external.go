// SPDX-License-Identifier: BSD-3-Clause

// Package external defines the collaborator interfaces the maintenance FSM,
// the MNFA controller, and the host watchdog depend on but do not own: the
// inventory mutator, the heartbeat commander, and the alarm/event sink. Each
// has a NATS-backed implementation in this package realizing the subjects
// declared in pkg/ipc, and an in-memory Recorder that records every call
// instead of publishing it, for tests.
package external

import (
	"context"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nodemtc/nodemtc/pkg/ipc"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

// InventoryMutator is the consumed contract for reporting node state,
// task strings, and ad-hoc field values to the cluster inventory.
type InventoryMutator interface {
	UpdateStates(ctx context.Context, hostname string, admin mtctypes.AdminState, oper mtctypes.OperState, avail mtctypes.AvailStatus) error
	UpdateTask(ctx context.Context, hostname, task string) error
	UpdateValue(ctx context.Context, hostname, field, value string) error
}

// HeartbeatCommander is the consumed unidirectional command channel to the
// heartbeat service. Exactly-once delivery is not guaranteed; callers (in
// particular the MNFA controller) must tolerate duplicate Recover calls.
type HeartbeatCommander interface {
	Backoff(ctx context.Context) error
	Recover(ctx context.Context) error
	StartHost(ctx context.Context, hostname string) error
	StopHost(ctx context.Context, hostname string) error
	RestartHost(ctx context.Context, hostname string) error
}

// AlarmEvent names one of the typed events the alarm/event sink accepts.
type AlarmEvent string

const (
	EventMnfaEnter           AlarmEvent = "mnfa-enter"
	EventMnfaExit            AlarmEvent = "mnfa-exit"
	EventHostFailed          AlarmEvent = "host-failed"
	EventHostDegraded        AlarmEvent = "host-degraded"
	EventHostAvailable       AlarmEvent = "host-available"
	EventBmcLost             AlarmEvent = "bmc-lost"
	EventBmcRestored         AlarmEvent = "bmc-restored"
	EventAutoRecoveryDisable AlarmEvent = "auto-recovery-disabled"
)

// AlarmSink is the consumed typed-event contract. Every event is annotated
// with the originating hostname and a correlation id for cross-subsystem tracing.
type AlarmSink interface {
	Raise(ctx context.Context, event AlarmEvent, hostname string, correlationID uuid.UUID) error
}

// natsInventoryMutator publishes fire-and-forget inventory updates.
type natsInventoryMutator struct {
	nc *nats.Conn
}

// NewNATSInventoryMutator returns an InventoryMutator that publishes to the
// maintenance.inventory.* subjects over the given connection.
func NewNATSInventoryMutator(nc *nats.Conn) InventoryMutator {
	return &natsInventoryMutator{nc: nc}
}

func (m *natsInventoryMutator) UpdateStates(_ context.Context, hostname string, admin mtctypes.AdminState, oper mtctypes.OperState, avail mtctypes.AvailStatus) error {
	payload := []byte(hostname + "|" + admin.String() + "|" + oper.String() + "|" + avail.String())
	return m.nc.Publish(ipc.SubjectInventoryUpdateStates, payload)
}

func (m *natsInventoryMutator) UpdateTask(_ context.Context, hostname, task string) error {
	return m.nc.Publish(ipc.SubjectInventoryUpdateTask, []byte(hostname+"|"+task))
}

func (m *natsInventoryMutator) UpdateValue(_ context.Context, hostname, field, value string) error {
	return m.nc.Publish(ipc.SubjectInventoryUpdateValue, []byte(hostname+"|"+field+"|"+value))
}

// natsHeartbeatCommander publishes to the heartbeat command subjects.
type natsHeartbeatCommander struct {
	nc *nats.Conn
}

// NewNATSHeartbeatCommander returns a HeartbeatCommander backed by NATS publish.
func NewNATSHeartbeatCommander(nc *nats.Conn) HeartbeatCommander {
	return &natsHeartbeatCommander{nc: nc}
}

func (c *natsHeartbeatCommander) Backoff(_ context.Context) error {
	return c.nc.Publish(ipc.SubjectHeartbeatBackoff, nil)
}

func (c *natsHeartbeatCommander) Recover(_ context.Context) error {
	return c.nc.Publish(ipc.SubjectHeartbeatRecover, nil)
}

func (c *natsHeartbeatCommander) StartHost(_ context.Context, hostname string) error {
	return c.nc.Publish(ipc.SubjectHeartbeatStart, []byte(hostname))
}

func (c *natsHeartbeatCommander) StopHost(_ context.Context, hostname string) error {
	return c.nc.Publish(ipc.SubjectHeartbeatStop, []byte(hostname))
}

func (c *natsHeartbeatCommander) RestartHost(_ context.Context, hostname string) error {
	return c.nc.Publish(ipc.SubjectHeartbeatRestart, []byte(hostname))
}

// natsAlarmSink publishes typed alarm events, one subject per event type.
type natsAlarmSink struct {
	nc *nats.Conn
}

// NewNATSAlarmSink returns an AlarmSink backed by NATS publish.
func NewNATSAlarmSink(nc *nats.Conn) AlarmSink {
	return &natsAlarmSink{nc: nc}
}

var alarmSubjects = map[AlarmEvent]string{
	EventMnfaEnter:           ipc.SubjectAlarmMnfaEnter,
	EventMnfaExit:            ipc.SubjectAlarmMnfaExit,
	EventHostFailed:          ipc.SubjectAlarmHostFailed,
	EventHostDegraded:        ipc.SubjectAlarmHostDegraded,
	EventHostAvailable:       ipc.SubjectAlarmHostAvailable,
	EventBmcLost:             ipc.SubjectAlarmBmcLost,
	EventBmcRestored:         ipc.SubjectAlarmBmcRestored,
	EventAutoRecoveryDisable: ipc.SubjectAlarmAutoRecoveryDisable,
}

func (s *natsAlarmSink) Raise(_ context.Context, event AlarmEvent, hostname string, correlationID uuid.UUID) error {
	subject, ok := alarmSubjects[event]
	if !ok {
		return ErrUnknownAlarmEvent
	}
	return s.nc.Publish(subject, []byte(hostname+"|"+correlationID.String()))
}
