// SPDX-License-Identifier: BSD-3-Clause

package mnfa_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/mnfa"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

type fakeHeartbeat struct {
	mu           sync.Mutex
	backoffCalls int
	recoverCalls int
}

func (f *fakeHeartbeat) Backoff(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backoffCalls++
	return nil
}

func (f *fakeHeartbeat) Recover(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoverCalls++
	return nil
}

func (f *fakeHeartbeat) StartHost(context.Context, string) error   { return nil }
func (f *fakeHeartbeat) StopHost(context.Context, string) error    { return nil }
func (f *fakeHeartbeat) RestartHost(context.Context, string) error { return nil }

func (f *fakeHeartbeat) counts() (backoff, recover int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backoffCalls, f.recoverCalls
}

type fakeAlarms struct {
	mu     sync.Mutex
	events []external.AlarmEvent
}

func (f *fakeAlarms) Raise(_ context.Context, event external.AlarmEvent, _ string, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAlarms) has(event external.AlarmEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fakeInventory struct{}

func (fakeInventory) UpdateStates(context.Context, string, mtctypes.AdminState, mtctypes.OperState, mtctypes.AvailStatus) error {
	return nil
}
func (fakeInventory) UpdateTask(context.Context, string, string) error  { return nil }
func (fakeInventory) UpdateValue(context.Context, string, string, string) error { return nil }

func newHarness(t *testing.T, opts ...mnfa.Option) (*mnfa.Controller, *arena.Arena, *fakeHeartbeat, *fakeAlarms) {
	t.Helper()

	a := arena.New()
	hb := &fakeHeartbeat{}
	alarms := &fakeAlarms{}

	c, err := mnfa.New(a, hb, alarms, fakeInventory{}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, a, hb, alarms
}

func addNode(t *testing.T, a *arena.Arena, hostname string) *arena.Node {
	t.Helper()
	n := &arena.Node{Hostname: hostname, Admin: mtctypes.AdminUnlocked, Oper: mtctypes.OperEnabled, Avail: mtctypes.AvailAvailable}
	if err := a.Add(n); err != nil {
		t.Fatalf("Add(%s): %v", hostname, err)
	}
	return n
}

func TestNewRejectsNilDependency(t *testing.T) {
	a := arena.New()
	hb := &fakeHeartbeat{}
	alarms := &fakeAlarms{}

	if _, err := mnfa.New(nil, hb, alarms, fakeInventory{}); err != mnfa.ErrInvalidConfig {
		t.Fatalf("New(nil arena): got %v, want ErrInvalidConfig", err)
	}
	if _, err := mnfa.New(a, nil, alarms, fakeInventory{}); err != mnfa.ErrInvalidConfig {
		t.Fatalf("New(nil heartbeat): got %v, want ErrInvalidConfig", err)
	}
}

func TestAddHostBelowThresholdStaysInactive(t *testing.T) {
	c, a, hb, _ := newHarness(t, mnfa.WithThreshold(3))
	n1 := addNode(t, a, "n1")
	n2 := addNode(t, a, "n2")

	if err := c.AddHost(context.Background(), n1, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost n1: %v", err)
	}
	if err := c.AddHost(context.Background(), n2, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost n2: %v", err)
	}

	if c.Active() {
		t.Fatal("controller went active below threshold")
	}
	if backoff, _ := hb.counts(); backoff != 0 {
		t.Fatalf("backoff called %d times before threshold crossed", backoff)
	}
}

func TestAddHostAtThresholdEntersAndSweepsAwol(t *testing.T) {
	c, a, hb, alarms := newHarness(t, mnfa.WithThreshold(2))
	n1 := addNode(t, a, "n1")
	n2 := addNode(t, a, "n2")
	n3 := addNode(t, a, "n3")

	ctx := context.Background()
	if err := c.AddHost(ctx, n1, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost n1: %v", err)
	}
	if err := c.AddHost(ctx, n2, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost n2: %v", err)
	}

	if !c.Active() {
		t.Fatal("controller did not enter at threshold")
	}
	if !alarms.has(external.EventMnfaEnter) {
		t.Fatal("mnfa-enter alarm was not raised")
	}
	if backoff, _ := hb.counts(); backoff != 1 {
		t.Fatalf("backoff called %d times, want exactly 1", backoff)
	}

	awol := c.AwolList()
	if len(awol) != 2 {
		t.Fatalf("awol list = %v, want 2 entries", awol)
	}

	// A third node reporting heartbeat-minor while already active must join
	// the AWOL roster without re-triggering Enter.
	if err := c.AddHost(ctx, n3, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost n3: %v", err)
	}
	if len(c.AwolList()) != 3 {
		t.Fatalf("awol list after late join = %v, want 3 entries", c.AwolList())
	}
	if backoff, _ := hb.counts(); backoff != 1 {
		t.Fatalf("backoff called again on late join: %d", backoff)
	}
}

func TestExitForcedMarksAwolFailedAndRestartsEnable(t *testing.T) {
	c, a, _, alarms := newHarness(t, mnfa.WithThreshold(1))
	n1 := addNode(t, a, "n1")

	var restarted []string
	var mu sync.Mutex
	c.SetEnableRestarter(func(hostname string) {
		mu.Lock()
		defer mu.Unlock()
		restarted = append(restarted, hostname)
	})

	ctx := context.Background()
	if err := c.AddHost(ctx, n1, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if !c.Active() {
		t.Fatal("controller did not enter")
	}

	if err := c.Exit(ctx, true); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	if c.Active() {
		t.Fatal("controller still active after forced exit")
	}
	if !alarms.has(external.EventMnfaExit) {
		t.Fatal("mnfa-exit alarm was not raised")
	}
	if len(c.AwolList()) != 0 {
		t.Fatal("awol list not cleared after exit")
	}

	n1.Lock()
	avail := n1.Avail
	n1.Unlock()
	if avail != mtctypes.AvailFailed {
		t.Fatalf("node avail after forced exit = %v, want AvailFailed", avail)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(restarted) != 1 || restarted[0] != "n1" {
		t.Fatalf("enable restarter calls = %v, want [n1]", restarted)
	}
}

func TestExitGracefulSchedulesDebouncedRecover(t *testing.T) {
	c, a, hb, _ := newHarness(t, mnfa.WithThreshold(1), mnfa.WithDebounce(10*time.Millisecond))
	n1 := addNode(t, a, "n1")

	ctx := context.Background()
	if err := c.AddHost(ctx, n1, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if err := c.Exit(ctx, false); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	if _, recoverCalls := hb.counts(); recoverCalls != 0 {
		t.Fatalf("recover-heartbeat fired before debounce elapsed: %d calls", recoverCalls)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := c.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if _, recoverCalls := hb.counts(); recoverCalls == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("recover-heartbeat was never sent after debounce elapsed")
}

func TestCancelClearsStateAndRecoversImmediately(t *testing.T) {
	c, a, hb, _ := newHarness(t, mnfa.WithThreshold(1), mnfa.WithDebounce(time.Hour))
	n1 := addNode(t, a, "n1")

	ctx := context.Background()
	if err := c.AddHost(ctx, n1, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if err := c.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if c.Active() {
		t.Fatal("controller still active after cancel")
	}
	if len(c.AwolList()) != 0 {
		t.Fatal("awol list not cleared after cancel")
	}
	if _, recoverCalls := hb.counts(); recoverCalls != 1 {
		t.Fatalf("recover-heartbeat calls after cancel = %d, want 1", recoverCalls)
	}

	n1.Lock()
	graceful := n1.GracefulRecovery
	n1.Unlock()
	if graceful {
		t.Fatal("graceful-recovery token still set after cancel")
	}
}

func TestFailureActionNoneDisablesEntry(t *testing.T) {
	c, a, hb, _ := newHarness(t, mnfa.WithThreshold(1), mnfa.WithFailureAction(mnfa.FailureActionNone))
	n1 := addNode(t, a, "n1")

	if err := c.AddHost(context.Background(), n1, arena.IfaceManagement); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if c.Active() {
		t.Fatal("controller entered despite hbs_failure_action=none")
	}
	if backoff, _ := hb.counts(); backoff != 0 {
		t.Fatalf("backoff called despite hbs_failure_action=none: %d", backoff)
	}
}

func TestRecoverHostPromotesDegradedAndStartsRecovery(t *testing.T) {
	c, a, _, alarms := newHarness(t)
	n1 := addNode(t, a, "n1")
	n1.Lock()
	n1.Avail = mtctypes.AvailDegraded
	n1.DegradeMask = 0
	n1.GracefulRecovery = true
	n1.Unlock()

	var started string
	c.SetRecoveryStarter(func(hostname string) { started = hostname })

	if err := c.RecoverHost(context.Background(), "n1"); err != nil {
		t.Fatalf("RecoverHost: %v", err)
	}

	n1.Lock()
	avail := n1.Avail
	n1.Unlock()
	if avail != mtctypes.AvailAvailable {
		t.Fatalf("avail after RecoverHost = %v, want AvailAvailable", avail)
	}
	if !alarms.has(external.EventHostAvailable) {
		t.Fatal("host-available alarm was not raised")
	}
	if started != "n1" {
		t.Fatalf("recovery starter called with %q, want n1", started)
	}
}
