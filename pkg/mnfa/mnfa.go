// SPDX-License-Identifier: BSD-3-Clause

// Package mnfa implements the Multi-Node Failure Avoidance controller: the
// cluster-wide state machine that decides whether a burst of simultaneous
// heartbeat-minor observations is a network event (one switch or control
// plane partition dropping many hosts at once) or a set of distinct node
// failures. Treating the former as a single coordinated recovery episode
// instead of N independent reboots is the entire point of this package.
//
// The controller owns no goroutine of its own: every mutating method is
// called from the node maintenance daemon's single tick goroutine, matching
// the single-threaded cooperative discipline the rest of the daemon runs
// under.
package mnfa

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
	"github.com/nodemtc/nodemtc/pkg/timer"
)

// RecoveryStarter starts the recovery handler for a host holding the
// graceful-recovery token. EnableRestarter restarts the enable handler from
// its START stage for a host whose MNFA episode was force-exited. Both are
// supplied by the node FSM daemon that owns the handler dispatch tables;
// the controller itself never reaches into handler stage state directly.
type RecoveryStarter func(hostname string)
type EnableRestarter func(hostname string)

// Controller is the MNFA state machine: inactive or active, with the AWOL
// list and per-interface host counts as its only durable state.
type Controller struct {
	config

	mu sync.Mutex

	arena      *arena.Arena
	heartbeat  external.HeartbeatCommander
	alarms     external.AlarmSink
	inventory  external.InventoryMutator
	startRecov RecoveryStarter
	restartEn  EnableRestarter

	active      bool
	hostCount   [2]int
	occurrences int
	awol        []string
	awolSet     map[string]struct{}

	mnfaTimer      *timer.Timer
	debounceTimer  *timer.Timer
	pendingRecover bool

	entries metric.Int64Counter
	exits   metric.Int64Counter
}

// New creates an inactive Controller. arena, heartbeat, alarms, and
// inventory must be non-nil.
func New(a *arena.Arena, heartbeat external.HeartbeatCommander, alarms external.AlarmSink, inventory external.InventoryMutator, opts ...Option) (*Controller, error) {
	if a == nil || heartbeat == nil || alarms == nil || inventory == nil {
		return nil, ErrInvalidConfig
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	c := &Controller{
		config:        cfg,
		arena:         a,
		heartbeat:     heartbeat,
		alarms:        alarms,
		inventory:     inventory,
		awolSet:       make(map[string]struct{}),
		mnfaTimer:     timer.New("mnfa-timeout"),
		debounceTimer: timer.New("mnfa-debounce"),
	}
	meter := otel.Meter("nodemtc/mnfa")
	c.entries, _ = meter.Int64Counter("nodemtc.mnfa.entries",
		metric.WithDescription("Storm episodes entered."))
	c.exits, _ = meter.Int64Counter("nodemtc.mnfa.exits",
		metric.WithDescription("Storm episodes exited, by kind (graceful, forced, cancel)."))
	return c, nil
}

// SetRecoveryStarter wires the FSM's recovery-handler entry point.
func (c *Controller) SetRecoveryStarter(fn RecoveryStarter) { c.startRecov = fn }

// SetEnableRestarter wires the FSM's enable-from-START entry point.
func (c *Controller) SetEnableRestarter(fn EnableRestarter) { c.restartEn = fn }

// Active reports whether the controller currently has a storm episode open.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HostCount returns mnfa_host_count[iface].
func (c *Controller) HostCount(iface arena.Iface) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostCount[iface]
}

// AwolList returns a snapshot of the current AWOL roster, in insertion order.
func (c *Controller) AwolList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.awol))
	copy(out, c.awol)
	return out
}

// Tick services the MNFA timer and the post-exit debounce timer. It must be
// called once per node-maintenance loop iteration, independent of any
// single node's own FSM tick.
func (c *Controller) Tick(ctx context.Context) error {
	if c.mnfaTimer.Ring() {
		if err := c.Exit(ctx, true); err != nil {
			return err
		}
	}

	c.mu.Lock()
	fire := c.pendingRecover && c.debounceTimer.Ring()
	if fire {
		c.pendingRecover = false
	}
	c.mu.Unlock()

	if fire {
		return c.heartbeat.Recover(ctx)
	}

	return nil
}

// AddHost is mnfa-add-host: the first heartbeat-minor observation for a
// node on the given interface. If this crosses mnfa_threshold and the
// controller is inactive, it triggers Enter.
func (c *Controller) AddHost(ctx context.Context, n *arena.Node, iface arena.Iface) error {
	if c.failureAction.noop() {
		return nil
	}

	n.Lock()
	already := n.HBMinor[iface]
	n.HBMinor[iface] = true
	n.HBMinorCount[iface]++
	n.Unlock()

	if already {
		return nil
	}

	c.mu.Lock()
	c.hostCount[iface]++
	active := c.active
	crossed := !active && c.hostCount[iface] >= c.threshold
	c.mu.Unlock()

	if active {
		c.markAwol(n)
		c.logPool(ctx)
		return nil
	}

	if crossed {
		return c.Enter(ctx)
	}

	return nil
}

// Enter is the MNFA entry transition: emit the alarm, set active, request
// heartbeat backoff exactly once, and sweep every node currently showing
// heartbeat-minor on any interface into the AWOL list with the
// graceful-recovery token.
func (c *Controller) Enter(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	c.mu.Unlock()

	c.entries.Add(ctx, 1)

	if err := c.alarms.Raise(ctx, external.EventMnfaEnter, "", uuid.New()); err != nil {
		c.logger.WarnContext(ctx, "mnfa enter: alarm raise failed", "error", err)
	}
	if err := c.heartbeat.Backoff(ctx); err != nil {
		c.logger.WarnContext(ctx, "mnfa enter: backoff-heartbeat failed", "error", err)
	}

	c.mnfaTimer.Start(c.timeout, "mnfa-active")

	c.arena.Each(func(n *arena.Node) {
		n.Lock()
		enabled := n.Oper == mtctypes.OperEnabled
		minor := n.HBMinor[arena.IfaceManagement] || n.HBMinor[arena.IfaceClusterHost]
		n.Unlock()
		if enabled && minor {
			c.markAwol(n)
		}
	})

	c.logPool(ctx)
	return nil
}

// Exit is the MNFA exit transition. force=true means the timer expired: it
// drives every AWOL host to failed and restarts its enable handler from
// START. force=false means every AWOL host cleared its heartbeat-minor
// state before the timer fired: degraded nodes with a clear degrade mask
// are promoted to available and sent into graceful recovery.
func (c *Controller) Exit(ctx context.Context, force bool) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.occurrences++
	c.active = false
	awol := make([]string, len(c.awol))
	copy(awol, c.awol)
	c.mu.Unlock()

	kind := "graceful"
	if force {
		kind = "forced"
	}
	c.exits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))

	if err := c.alarms.Raise(ctx, external.EventMnfaExit, "", uuid.New()); err != nil {
		c.logger.WarnContext(ctx, "mnfa exit: alarm raise failed", "error", err)
	}

	for _, hostname := range awol {
		n, ok := c.arena.Get(hostname)
		if !ok {
			continue
		}

		n.Lock()
		n.HBMinor[arena.IfaceManagement] = false
		n.HBMinor[arena.IfaceClusterHost] = false
		n.Unlock()

		if force {
			n.Lock()
			n.Avail = mtctypes.AvailFailed
			n.GracefulRecovery = false
			n.Unlock()
			_ = c.inventory.UpdateStates(ctx, hostname, n.Admin, n.Oper, mtctypes.AvailFailed)
			if c.restartEn != nil {
				c.restartEn(hostname)
			}
			continue
		}

		n.Lock()
		degraded := n.Avail == mtctypes.AvailDegraded && n.DegradeMask == 0
		alreadyGraceful := n.GracefulRecovery
		if degraded {
			n.Avail = mtctypes.AvailAvailable
		}
		if !alreadyGraceful {
			n.GracefulRecovery = true
		}
		n.Unlock()

		if degraded {
			_ = c.inventory.UpdateStates(ctx, hostname, n.Admin, n.Oper, mtctypes.AvailAvailable)
			_ = c.alarms.Raise(ctx, external.EventHostAvailable, hostname, uuid.New())
		}
	}

	c.mnfaTimer.Stop()

	c.mu.Lock()
	c.hostCount = [2]int{}
	c.awol = nil
	c.awolSet = make(map[string]struct{})
	c.mu.Unlock()

	if !force {
		c.debounceTimer.Start(c.debounce, "mnfa-exit-debounce")
		c.mu.Lock()
		c.pendingRecover = true
		c.mu.Unlock()
	} else {
		if err := c.heartbeat.Recover(ctx); err != nil {
			c.logger.WarnContext(ctx, "mnfa forced exit: recover-heartbeat failed", "error", err)
		}
	}

	return nil
}

// Cancel aborts an active episode immediately (e.g. an operator-driven
// recovery made the storm moot before the timer or a clean exit fired):
// clear every AWOL node's graceful-recovery token and degrade bits for both
// interfaces, clear its task, and request heartbeat recovery immediately
// rather than after the debounce.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	awol := make([]string, len(c.awol))
	copy(awol, c.awol)
	c.active = false
	c.hostCount = [2]int{}
	c.awol = nil
	c.awolSet = make(map[string]struct{})
	c.pendingRecover = false
	c.mu.Unlock()

	c.mnfaTimer.Stop()
	c.debounceTimer.Stop()

	c.exits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "cancel")))

	for _, hostname := range awol {
		n, ok := c.arena.Get(hostname)
		if !ok {
			continue
		}
		n.Lock()
		n.GracefulRecovery = false
		n.HBMinor[arena.IfaceManagement] = false
		n.HBMinor[arena.IfaceClusterHost] = false
		n.DegradeMask = 0
		n.Task = ""
		n.Unlock()
		_ = c.inventory.UpdateTask(ctx, hostname, "")
	}

	return c.heartbeat.Recover(ctx)
}

// RecoverHost is mnfa-recover-host: called when a node's own heartbeat has
// been restored. If it is degraded with a clear degrade mask it is promoted
// to available; if it still holds the graceful-recovery token its recovery
// handler is (re)started.
func (c *Controller) RecoverHost(ctx context.Context, hostname string) error {
	n, ok := c.arena.Get(hostname)
	if !ok {
		return nil
	}

	n.Lock()
	degraded := n.Avail == mtctypes.AvailDegraded && n.DegradeMask == 0
	if degraded {
		n.Avail = mtctypes.AvailAvailable
	}
	graceful := n.GracefulRecovery
	admin := n.Admin
	oper := n.Oper
	avail := n.Avail
	n.Unlock()

	if degraded {
		_ = c.inventory.UpdateStates(ctx, hostname, admin, oper, avail)
		_ = c.alarms.Raise(ctx, external.EventHostAvailable, hostname, uuid.New())
	}

	if graceful && c.startRecov != nil {
		c.startRecov(hostname)
	}

	return nil
}

// markAwol adds hostname to the AWOL list (if not already present), marks
// the graceful-recovery token, and sets the recovery-wait task string.
func (c *Controller) markAwol(n *arena.Node) {
	n.Lock()
	n.GracefulRecovery = true
	n.Task = "recovery wait"
	hostname := n.Hostname
	n.Unlock()

	c.mu.Lock()
	if _, exists := c.awolSet[hostname]; !exists {
		c.awolSet[hostname] = struct{}{}
		c.awol = append(c.awol, hostname)
	}
	c.mu.Unlock()

	_ = c.inventory.UpdateTask(context.Background(), hostname, "recovery wait")
}

// logPool emits a single space-joined pool log line on every AWOL-list
// mutation; it is the first thing an operator debugging a storm looks for.
func (c *Controller) logPool(ctx context.Context) {
	c.mu.Lock()
	pool := strings.Join(c.awol, " ")
	c.mu.Unlock()

	if pool == "" {
		return
	}
	c.logger.InfoContext(ctx, "mnfa pool", "hosts", pool)
}

