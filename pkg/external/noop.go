// SPDX-License-Identifier: BSD-3-Clause

package external

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

// Recorder is an in-memory InventoryMutator, HeartbeatCommander, and
// AlarmSink useful for tests: every call is appended to a slice instead of
// being published anywhere.
type Recorder struct {
	mu sync.Mutex

	States []StateUpdate
	Tasks  []TaskUpdate
	Values []ValueUpdate

	HeartbeatCalls []string
	Alarms         []AlarmCall
}

// StateUpdate records one UpdateStates call.
type StateUpdate struct {
	Hostname string
	Admin    mtctypes.AdminState
	Oper     mtctypes.OperState
	Avail    mtctypes.AvailStatus
}

// TaskUpdate records one UpdateTask call.
type TaskUpdate struct {
	Hostname string
	Task     string
}

// ValueUpdate records one UpdateValue call.
type ValueUpdate struct {
	Hostname, Field, Value string
}

// AlarmCall records one Raise call.
type AlarmCall struct {
	Event         AlarmEvent
	Hostname      string
	CorrelationID uuid.UUID
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) UpdateStates(_ context.Context, hostname string, admin mtctypes.AdminState, oper mtctypes.OperState, avail mtctypes.AvailStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.States = append(r.States, StateUpdate{hostname, admin, oper, avail})
	return nil
}

func (r *Recorder) UpdateTask(_ context.Context, hostname, task string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tasks = append(r.Tasks, TaskUpdate{hostname, task})
	return nil
}

func (r *Recorder) UpdateValue(_ context.Context, hostname, field, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Values = append(r.Values, ValueUpdate{hostname, field, value})
	return nil
}

func (r *Recorder) Backoff(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HeartbeatCalls = append(r.HeartbeatCalls, "backoff")
	return nil
}

func (r *Recorder) Recover(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HeartbeatCalls = append(r.HeartbeatCalls, "recover")
	return nil
}

func (r *Recorder) StartHost(_ context.Context, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HeartbeatCalls = append(r.HeartbeatCalls, "start:"+hostname)
	return nil
}

func (r *Recorder) StopHost(_ context.Context, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HeartbeatCalls = append(r.HeartbeatCalls, "stop:"+hostname)
	return nil
}

func (r *Recorder) RestartHost(_ context.Context, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HeartbeatCalls = append(r.HeartbeatCalls, "restart:"+hostname)
	return nil
}

func (r *Recorder) Raise(_ context.Context, event AlarmEvent, hostname string, correlationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alarms = append(r.Alarms, AlarmCall{event, hostname, correlationID})
	return nil
}
