// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"
	"testing"
	"time"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/mnfa"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *arena.Arena, *external.Recorder) {
	t.Helper()

	a := arena.New()
	rec := external.NewRecorder()
	executor := bmc.New(bmc.WithWorkers(1), bmc.WithOutputBase(t.TempDir()))
	t.Cleanup(executor.Close)

	mnfaCtl, err := mnfa.New(a, rec, rec, rec)
	if err != nil {
		t.Fatalf("mnfa.New: %v", err)
	}

	d, err := New(a, executor, mnfaCtl, rec, rec, rec, WithOnlineAuditDebounce(0))
	if err != nil {
		t.Fatalf("fsm.New: %v", err)
	}
	return d, a, rec
}

// TestSelectHandlerDispatchTable exercises the dispatch table's
// top-to-bottom row ordering for its most consequential rows: a steady
// in-service node gets the periodic audit, not a fault handler; a failed
// in-service node re-enters enable ahead of any other matching row; a
// powered-off unlocked node transitions to poweron rather than being
// mistaken for a no-op; and an unrecognized tuple auto-corrects instead of
// the main loop ever refusing to dispatch.
func TestSelectHandlerDispatchTable(t *testing.T) {
	tests := []struct {
		name    string
		snap    mtctypes.Snapshot
		handler mtctypes.Handler
		poweron bool
	}{
		{
			name: "steady in-service runs insv-test",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailAvailable, Action: mtctypes.ActionNone},
			handler: mtctypes.HandlerInsvTest,
		},
		{
			name: "in-service but failed re-enters enable ahead of oos-test",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailFailed, Action: mtctypes.ActionNone},
			handler: mtctypes.HandlerEnable,
		},
		{
			name: "locked disabled offline runs oos-test",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminLocked, Oper: mtctypes.OperDisabled, Avail: mtctypes.AvailOffline, Action: mtctypes.ActionNone},
			handler: mtctypes.HandlerOosTest,
		},
		{
			name: "unlocked powered-off with no action becomes poweron",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperDisabled, Avail: mtctypes.AvailPoweredOff, Action: mtctypes.ActionNone},
			poweron: true,
		},
		{
			name: "unlock action drives enable",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminLocked, Oper: mtctypes.OperDisabled, Avail: mtctypes.AvailOffline, Action: mtctypes.ActionUnlock},
			handler: mtctypes.HandlerEnable,
		},
		{
			name: "lock action on an online node drives disable rather than oos-test",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminLocked, Oper: mtctypes.OperDisabled, Avail: mtctypes.AvailOnline, Action: mtctypes.ActionLock},
			handler: mtctypes.HandlerDisable,
		},
		{
			name: "unlocked in-service poweroff request is rejected",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailAvailable, Action: mtctypes.ActionPowerOff},
			handler: mtctypes.HandlerReject,
		},
		{
			name: "lock request against an enabled-but-failed node drives disable, not enable",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailFailed, Action: mtctypes.ActionLock},
			handler: mtctypes.HandlerDisable,
		},
		{
			name: "force-lock request against an enabled-but-failed node drives disable, not enable",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailFailed, Action: mtctypes.ActionForceLock},
			handler: mtctypes.HandlerDisable,
		},
		{
			name: "poweron already in flight reaches the power handler instead of re-latching",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperDisabled, Avail: mtctypes.AvailPoweredOff, Action: mtctypes.ActionPowerOn},
			handler: mtctypes.HandlerPower,
		},
		{
			name: "unrecognized tuple auto-corrects",
			snap: mtctypes.Snapshot{Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailIntest, Action: mtctypes.ActionNone},
			handler: mtctypes.HandlerAutoCorrect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, poweron := selectHandler(tt.snap)
			if poweron != tt.poweron {
				t.Fatalf("poweron = %v, want %v", poweron, tt.poweron)
			}
			if !tt.poweron && handler != tt.handler {
				t.Fatalf("handler = %v, want %v", handler, tt.handler)
			}
		})
	}
}

// TestRunDegradeHandlerPromotesOnClearMask checks that availStatus ==
// available implies a zero degrade mask, enforced from the
// other direction -- the instant the mask clears, a degraded node is
// promoted back to available without waiting on any other handler.
func TestRunDegradeHandlerPromotesOnClearMask(t *testing.T) {
	d, a, rec := newTestDispatcher(t)
	n := &arena.Node{Hostname: "compute-1", Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailDegraded}
	if err := a.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}

	d.runDegradeHandler(context.Background(), n)

	n.Lock()
	avail := n.Avail
	n.Unlock()
	if avail != mtctypes.AvailAvailable {
		t.Fatalf("Avail = %v, want available", avail)
	}
	if len(rec.States) != 1 || rec.States[0].Avail != mtctypes.AvailAvailable {
		t.Fatalf("expected one inventory state update to available, got %+v", rec.States)
	}
	if rec.Alarms[len(rec.Alarms)-1].Event != external.EventHostAvailable {
		t.Fatalf("expected host-available alarm, got %+v", rec.Alarms)
	}
}

// TestRunDegradeHandlerLeavesMaskedNodeAlone confirms a still-degraded node
// (nonzero mask) is left untouched rather than spuriously promoted.
func TestRunDegradeHandlerLeavesMaskedNodeAlone(t *testing.T) {
	d, a, rec := newTestDispatcher(t)
	n := &arena.Node{Hostname: "compute-2", Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailDegraded, DegradeMask: 1}
	if err := a.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}

	d.runDegradeHandler(context.Background(), n)

	n.Lock()
	avail := n.Avail
	n.Unlock()
	if avail != mtctypes.AvailDegraded {
		t.Fatalf("Avail = %v, want degraded", avail)
	}
	if len(rec.States) != 0 {
		t.Fatalf("expected no inventory update, got %+v", rec.States)
	}
}

// TestRunBMCHandlerAlarmsOnEdgesOnly confirms the BMC connection handler
// raises bmc-lost/bmc-restored exactly once per edge rather
// than once per tick the condition holds.
func TestRunBMCHandlerAlarmsOnEdgesOnly(t *testing.T) {
	d, a, rec := newTestDispatcher(t)
	n := &arena.Node{Hostname: "compute-3"}
	if err := a.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx := context.Background()

	n.Lock()
	n.BMC.LastQueryOK = false
	n.Unlock()
	d.runBMCHandler(ctx, n)
	d.runBMCHandler(ctx, n)

	lost := 0
	for _, al := range rec.Alarms {
		if al.Event == external.EventBmcLost {
			lost++
		}
	}
	if lost != 1 {
		t.Fatalf("expected exactly one bmc-lost alarm, got %d", lost)
	}

	n.Lock()
	n.BMC.LastQueryOK = true
	n.Unlock()
	d.runBMCHandler(ctx, n)

	restored := 0
	for _, al := range rec.Alarms {
		if al.Event == external.EventBmcRestored {
			restored++
		}
	}
	if restored != 1 {
		t.Fatalf("expected exactly one bmc-restored alarm, got %d", restored)
	}
}

// TestRunOnlineHandlerDebounces confirms a locked/disabled node's
// availStatus only flips between online and offline once the heartbeat-minor
// audit has held steady across a full debounce window.
func TestRunOnlineHandlerDebounces(t *testing.T) {
	d, a, _ := newTestDispatcher(t)
	d.onlineAuditDebounce = 30 * time.Millisecond

	n := &arena.Node{Hostname: "compute-4", Admin: mtctypes.AdminLocked, Oper: mtctypes.OperDisabled, Avail: mtctypes.AvailOnline}
	if err := a.Add(n); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx := context.Background()

	n.Lock()
	n.HBMinor[arena.IfaceManagement] = true
	n.Unlock()

	d.runOnlineHandler(ctx, n) // arms the debounce, no transition yet
	n.Lock()
	avail := n.Avail
	n.Unlock()
	if avail != mtctypes.AvailOnline {
		t.Fatalf("Avail flipped before debounce elapsed: %v", avail)
	}

	time.Sleep(40 * time.Millisecond)
	d.runOnlineHandler(ctx, n)
	n.Lock()
	avail = n.Avail
	n.Unlock()
	if avail != mtctypes.AvailOffline {
		t.Fatalf("Avail = %v after debounce, want offline", avail)
	}
}
