// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"context"

	"github.com/google/uuid"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

// runOp submits cmd/verb for n if no request is already outstanding, else
// checks for its result, calling onSuccess or onFailure exactly once and
// clearing the pending op. It returns (true, err) once the op has resolved
// this tick (so the caller may finalize), (false, err) while still waiting.
func (d *Dispatcher) runOp(n *arena.Node, cmd bmc.Command, verb bmc.Verb, onSuccess, onFailure func(*arena.Node, bmc.Result)) (bool, error) {
	d.mu.Lock()
	op, has := d.ops[n.Hostname]
	d.mu.Unlock()

	if !has {
		correlationID := n.Hostname + ":" + uuid.New().String()
		var password []byte
		if f := d.fetcherFor(n); f != nil && f.Ready() {
			password = f.Payload()
		}
		n.Lock()
		req := bmc.Request{
			Hostname:      n.Hostname,
			BMCIP:         n.BMCIP,
			BMCUser:       n.BMCUser,
			Password:      password,
			Command:       cmd,
			Protocol:      bmc.ProtocolDynamic,
			Verb:          verb,
			CorrelationID: correlationID,
		}
		n.Unlock()
		if err := d.submit(req); err != nil {
			return false, err
		}
		d.mu.Lock()
		d.ops[n.Hostname] = pendingOp{correlationID: correlationID}
		d.mu.Unlock()
		return false, nil
	}

	res, ok := d.result(op.correlationID)
	if !ok {
		return false, nil
	}

	d.mu.Lock()
	delete(d.ops, n.Hostname)
	d.mu.Unlock()

	if res.OK {
		onSuccess(n, res)
	} else {
		onFailure(n, res)
	}
	return true, nil
}

func (d *Dispatcher) clearAction(n *arena.Node) {
	n.Lock()
	n.Action = mtctypes.ActionNone
	n.Unlock()
}

func (d *Dispatcher) reportState(ctx context.Context, n *arena.Node) {
	snap := n.Snapshot()
	if err := d.inventory.UpdateStates(ctx, n.Hostname, snap.Admin, snap.Oper, snap.Avail); err != nil {
		d.logger.WarnContext(ctx, "inventory update failed", "hostname", n.Hostname, "error", err)
	}
}

// handleAdd provisions a newly added node: reset its BMC capability cache
// and drop it into the locked/disabled/offline steady state awaiting an
// operator unlock.
func (d *Dispatcher) handleAdd(ctx context.Context, n *arena.Node) error {
	n.ResetBMCState()
	n.Lock()
	n.Admin = mtctypes.AdminLocked
	n.Oper = mtctypes.OperDisabled
	n.Avail = mtctypes.AvailOffline
	n.Action = mtctypes.ActionNone
	n.Unlock()
	d.reportState(ctx, n)
	return nil
}

// handleDelete deprovisions a node: purge its BMC capability cache and any
// leftover ephemeral credential files, stop heartbeat monitoring, drop its
// secret fetcher, and remove it from the arena.
func (d *Dispatcher) handleDelete(ctx context.Context, n *arena.Node) error {
	hostname := n.Hostname

	if err := d.executor.PurgeHost(hostname); err != nil {
		d.logger.WarnContext(ctx, "purge host failed", "hostname", hostname, "error", err)
	}
	if err := d.heartbeat.StopHost(ctx, hostname); err != nil {
		d.logger.WarnContext(ctx, "stop-host failed", "hostname", hostname, "error", err)
	}
	d.dropFetcher(hostname)
	d.resetHandlerState(hostname, mtctypes.HandlerNone)
	d.mu.Lock()
	delete(d.conns, hostname)
	d.mu.Unlock()

	if err := d.arena.Remove(hostname); err != nil {
		return err
	}
	return nil
}

// handleEnable drives the enable sub-FSM one step, creating it on first
// entry and finalizing node state once it reaches DONE or FAILURE.
func (d *Dispatcher) handleEnable(ctx context.Context, n *arena.Node) error {
	d.mu.Lock()
	h, ok := d.enablers[n.Hostname]
	if !ok {
		h = newEnableHandler(n.Hostname, d.stageTimeout, d.retryLimit, d.arBackoffBase, d.arBackoffMax, d.logger)
		h.submit = d.submit
		h.result = d.result
		h.heartbeat = d.heartbeat
		h.inventory = d.inventory
		h.alarms = d.alarms
		d.enablers[n.Hostname] = h
	}
	d.mu.Unlock()

	h.onDone = func() {
		n.Lock()
		n.Oper = mtctypes.OperEnabled
		n.Avail = mtctypes.AvailAvailable
		n.Action = mtctypes.ActionNone
		n.ARDisabled = false
		n.GracefulRecovery = false
		n.Unlock()
		d.reportState(ctx, n)
		if err := d.inventory.UpdateTask(ctx, n.Hostname, ""); err != nil {
			d.logger.WarnContext(ctx, "clear task failed", "hostname", n.Hostname, "error", err)
		}
	}
	h.onFailure = func() {
		n.Lock()
		n.Avail = mtctypes.AvailFailed
		n.Action = mtctypes.ActionNone
		n.Unlock()
		d.reportState(ctx, n)
		if err := d.alarms.Raise(ctx, external.EventHostFailed, n.Hostname, uuid.New()); err != nil {
			d.logger.WarnContext(ctx, "raise host-failed alarm failed", "hostname", n.Hostname, "error", err)
		}
	}
	h.onExhausted = func() {
		n.Lock()
		n.ARDisabled = true
		n.Avail = mtctypes.AvailFailed
		n.Action = mtctypes.ActionNone
		n.Unlock()
		d.reportState(ctx, n)
		if err := d.alarms.Raise(ctx, external.EventAutoRecoveryDisable, n.Hostname, uuid.New()); err != nil {
			d.logger.WarnContext(ctx, "raise auto-recovery-disabled alarm failed", "hostname", n.Hostname, "error", err)
		}
	}

	if h.stage() == EnableHeartbeatWait {
		n.Lock()
		clear := !n.HBMinor[arena.IfaceManagement] && !n.HBMinor[arena.IfaceClusterHost]
		n.Unlock()
		if clear {
			if err := h.confirmHeartbeat(ctx); err != nil {
				return err
			}
		}
	}

	return h.tick(ctx)
}

// handleConfig services a pending out-of-band config request (install a new
// BMC account or change the existing one's password), ahead of the dispatch
// table. Both actions share the same BMC command: only the
// credential the executor's password lookup resolves differs, and that
// resolution is the secret fetcher's concern, not this handler's.
func (d *Dispatcher) handleConfig(ctx context.Context, n *arena.Node, action string) error {
	done, err := d.runOp(n, bmc.CommandConfigApply, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.ConfigAction = ""
			n.Unlock()
			d.logger.InfoContext(ctx, "config action applied", "hostname", n.Hostname, "action", action)
		},
		func(n *arena.Node, res bmc.Result) {
			n.Lock()
			n.ConfigAction = ""
			n.Unlock()
			d.logger.WarnContext(ctx, "config action failed", "hostname", n.Hostname, "action", action, "error", res.Err)
			_ = d.alarms.Raise(ctx, external.EventBmcLost, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

func (d *Dispatcher) handleDisable(ctx context.Context, n *arena.Node) error {
	if err := d.heartbeat.StopHost(ctx, n.Hostname); err != nil {
		d.logger.WarnContext(ctx, "stop-host failed", "hostname", n.Hostname, "error", err)
	}
	n.Lock()
	n.Oper = mtctypes.OperDisabled
	n.Avail = mtctypes.AvailOffline
	n.Action = mtctypes.ActionNone
	n.Unlock()
	d.reportState(ctx, n)
	return nil
}

func (d *Dispatcher) handleReset(ctx context.Context, n *arena.Node) error {
	done, err := d.runOp(n, bmc.CommandPowerReset, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailOffline
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailFailed
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
			_ = d.alarms.Raise(ctx, external.EventHostFailed, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

func (d *Dispatcher) handleReboot(ctx context.Context, n *arena.Node) error {
	done, err := d.runOp(n, bmc.CommandPowerCycle, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailOnline
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailFailed
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
			_ = d.alarms.Raise(ctx, external.EventHostFailed, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

func (d *Dispatcher) handleReinstall(ctx context.Context, n *arena.Node) error {
	d.mu.Lock()
	op := d.ops[n.Hostname]
	d.mu.Unlock()

	if op.stage == "" {
		done, err := d.runOp(n, bmc.CommandBootDevPXE, bmc.VerbGraceful,
			func(*arena.Node, bmc.Result) {}, func(*arena.Node, bmc.Result) {})
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		d.mu.Lock()
		d.ops[n.Hostname] = pendingOp{stage: "powercycle"}
		d.mu.Unlock()
		n.Lock()
		n.Task = "reinstalling"
		n.Unlock()
		return nil
	}

	done, err := d.runOp(n, bmc.CommandPowerCycle, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailIntest
			n.Action = mtctypes.ActionNone
			n.Task = ""
			n.Unlock()
			d.reportState(ctx, n)
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailFailed
			n.Action = mtctypes.ActionNone
			n.Task = ""
			n.Unlock()
			d.reportState(ctx, n)
			_ = d.alarms.Raise(ctx, external.EventHostFailed, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

func (d *Dispatcher) handlePower(ctx context.Context, n *arena.Node) error {
	snap := n.Snapshot()
	cmd := bmc.CommandPowerOff
	if snap.Action == mtctypes.ActionPowerOn {
		cmd = bmc.CommandPowerOn
	}

	done, err := d.runOp(n, cmd, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			if cmd == bmc.CommandPowerOn {
				n.Avail = mtctypes.AvailOnline
			} else {
				n.Avail = mtctypes.AvailPoweredOff
			}
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailFailed
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
			_ = d.alarms.Raise(ctx, external.EventHostFailed, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

func (d *Dispatcher) handlePowercycle(ctx context.Context, n *arena.Node) error {
	done, err := d.runOp(n, bmc.CommandPowerCycle, bmc.VerbImmediate,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailOnline
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.Avail = mtctypes.AvailFailed
			n.Action = mtctypes.ActionNone
			n.Unlock()
			d.reportState(ctx, n)
			_ = d.alarms.Raise(ctx, external.EventHostFailed, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

// handleSwact is a no-op outside a controller-pair deployment: a single
// all-in-one node has nothing to switch activity to.
func (d *Dispatcher) handleSwact(ctx context.Context, n *arena.Node) error {
	d.logger.InfoContext(ctx, "swact requested on a non-redundant node; ignoring", "hostname", n.Hostname)
	d.clearAction(n)
	return nil
}

// handleRecovery re-drives the enable handler for a node MNFA has marked
// for graceful recovery, clearing the token once enable completes.
func (d *Dispatcher) handleRecovery(ctx context.Context, n *arena.Node) error {
	return d.handleEnable(ctx, n)
}

// handleInsvTest is the periodic in-service audit: confirm the BMC still
// reports the host powered and healthy, degrading the node on failure.
func (d *Dispatcher) handleInsvTest(ctx context.Context, n *arena.Node) error {
	done, err := d.runOp(n, bmc.CommandPowerStatus, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.BMC.LastQueryOK = true
			n.Unlock()
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.BMC.LastQueryOK = false
			n.Avail = mtctypes.AvailDegraded
			n.DegradeMask |= 1
			n.Unlock()
			d.reportState(ctx, n)
			_ = d.alarms.Raise(ctx, external.EventHostDegraded, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

// handleOosTest is the periodic out-of-service audit: confirm the BMC
// connection itself is still reachable while the host is locked.
func (d *Dispatcher) handleOosTest(ctx context.Context, n *arena.Node) error {
	done, err := d.runOp(n, bmc.CommandBMCQuery, bmc.VerbGraceful,
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.BMC.ConnectionUp = true
			n.Unlock()
		},
		func(n *arena.Node, _ bmc.Result) {
			n.Lock()
			n.BMC.ConnectionUp = false
			n.Unlock()
			_ = d.alarms.Raise(ctx, external.EventBmcLost, n.Hostname, uuid.New())
		})
	_ = done
	return err
}

func (d *Dispatcher) handleSubfEnable(ctx context.Context, n *arena.Node) error {
	d.clearAction(n)
	d.reportState(ctx, n)
	return nil
}

// handleReject answers an administratively disallowed action (e.g.
// power-off against an unlocked, in-service node) by clearing the action
// and task without performing anything.
func (d *Dispatcher) handleReject(ctx context.Context, n *arena.Node) error {
	n.Lock()
	n.Action = mtctypes.ActionNone
	n.Task = ""
	n.Unlock()
	d.logger.WarnContext(ctx, "rejected administrative action against in-service node", "hostname", n.Hostname)
	return nil
}

// handleAutoCorrect clamps a node whose (admin, oper, avail) tuple matched
// none of the dispatch table's named rows back to a consistent steady
// state, forcing the admin action that would have produced it.
func (d *Dispatcher) handleAutoCorrect(ctx context.Context, n *arena.Node) error {
	n.Lock()
	if n.Admin == mtctypes.AdminUnlocked {
		n.Oper = mtctypes.OperDisabled
		n.Avail = mtctypes.AvailOnline
		n.Action = mtctypes.ActionUnlock
	} else {
		n.Oper = mtctypes.OperDisabled
		n.Avail = mtctypes.AvailOffline
		n.Action = mtctypes.ActionForceLock
	}
	n.Unlock()
	d.reportState(ctx, n)
	return nil
}
