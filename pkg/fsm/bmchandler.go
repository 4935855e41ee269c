// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
	"github.com/nodemtc/nodemtc/pkg/timer"
)

// bmcConnState is the two-state lattice the BMC handler tracks per node,
// independent of whatever admin action is currently dispatched:
// the board-management connection is either reachable or it isn't, and only
// the edges of that signal are alarm-worthy.
type bmcConnState string

const (
	bmcConnUp   bmcConnState = "up"
	bmcConnLost bmcConnState = "lost"
)

const (
	bmcTriggerOK   = "query-ok"
	bmcTriggerFail = "query-fail"
)

// bmcConn is the per-node connection-state sub-machine plus the debounce
// timer the online/offline audit uses to avoid flapping a
// locked node's availStatus on a single transient heartbeat blip.
type bmcConn struct {
	machine      *stateless.StateMachine
	auditPending bool
	auditTimer   *timer.Timer
}

func newBMCConn(hostname string) *bmcConn {
	c := &bmcConn{auditTimer: timer.New("online-audit-" + hostname)}
	c.machine = stateless.NewStateMachine(bmcConnUp)
	c.machine.Configure(bmcConnUp).Permit(bmcTriggerFail, bmcConnLost)
	c.machine.Configure(bmcConnLost).Permit(bmcTriggerOK, bmcConnUp)
	return c
}

func (d *Dispatcher) connFor(hostname string) *bmcConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[hostname]
	if !ok {
		c = newBMCConn(hostname)
		d.conns[hostname] = c
	}
	return c
}

// runBMCHandler reconciles the cached BMC query outcome
// (written by whichever action handler last ran a BMC command this tick,
// most commonly insv-test/oos-test) against the connection sub-machine,
// raising bmc-lost/bmc-restored exactly on the edges.
func (d *Dispatcher) runBMCHandler(ctx context.Context, n *arena.Node) {
	n.Lock()
	ok := n.BMC.LastQueryOK
	hostname := n.Hostname
	n.Unlock()

	conn := d.connFor(hostname)
	st, _ := conn.machine.State(ctx)
	current := st.(bmcConnState)

	if ok && current == bmcConnLost {
		if err := conn.machine.FireCtx(ctx, bmcTriggerOK); err != nil {
			d.logger.WarnContext(ctx, "bmc handler: up transition failed", "hostname", hostname, "error", err)
			return
		}
		_ = d.alarms.Raise(ctx, external.EventBmcRestored, hostname, uuid.New())
	} else if !ok && current == bmcConnUp {
		if err := conn.machine.FireCtx(ctx, bmcTriggerFail); err != nil {
			d.logger.WarnContext(ctx, "bmc handler: lost transition failed", "hostname", hostname, "error", err)
			return
		}
		_ = d.alarms.Raise(ctx, external.EventBmcLost, hostname, uuid.New())
	}
}

// runDegradeHandler promotes a degraded node back to available the instant
// every independent degrade cause has cleared (degrade mask zero), outside
// of whatever MNFA recovery path might also be driving the same promotion.
func (d *Dispatcher) runDegradeHandler(ctx context.Context, n *arena.Node) {
	n.Lock()
	clear := n.Avail == mtctypes.AvailDegraded && n.DegradeMask == 0
	if clear {
		n.Avail = mtctypes.AvailAvailable
	}
	hostname := n.Hostname
	n.Unlock()

	if !clear {
		return
	}
	d.reportState(ctx, n)
	_ = d.alarms.Raise(ctx, external.EventHostAvailable, hostname, uuid.New())
}

// runOfflineHandler is a no-op outside of fault handling. The
// node's availStatus already reflects any active fault through the degrade
// mask and the enable/oos-test handlers; nothing further is owed here.
func (d *Dispatcher) runOfflineHandler(context.Context, *arena.Node) {}

// runOnlineHandler is the audit-driven online/offline
// transition for an out-of-service (locked+disabled) node, debounced so a
// single heartbeat-minor pulse loss doesn't flap the inventory record. Only
// nodes already sitting in the locked/disabled/{online,offline} steady state
// are audited; any node mid-action is left to its own handler.
func (d *Dispatcher) runOnlineHandler(ctx context.Context, n *arena.Node) {
	snap := n.Snapshot()
	if !(snap.Admin == mtctypes.AdminLocked && snap.Oper == mtctypes.OperDisabled &&
		(snap.Avail == mtctypes.AvailOnline || snap.Avail == mtctypes.AvailOffline) &&
		snap.Action == mtctypes.ActionNone) {
		return
	}

	n.Lock()
	minor := n.HBMinor[arena.IfaceManagement] || n.HBMinor[arena.IfaceClusterHost]
	hostname := n.Hostname
	n.Unlock()

	wantOffline := minor
	currentlyOffline := snap.Avail == mtctypes.AvailOffline

	conn := d.connFor(hostname)
	if wantOffline == currentlyOffline {
		conn.auditPending = false
		conn.auditTimer.Stop()
		return
	}

	if !conn.auditPending {
		conn.auditPending = true
		conn.auditTimer.Start(d.onlineAuditDebounce, "online-audit")
		return
	}

	if !conn.auditTimer.Ring() {
		return
	}
	conn.auditPending = false

	n.Lock()
	if wantOffline {
		n.Avail = mtctypes.AvailOffline
	} else {
		n.Avail = mtctypes.AvailOnline
	}
	n.Unlock()
	d.reportState(ctx, n)
}
