// SPDX-License-Identifier: BSD-3-Clause

// Package fsm implements the per-node maintenance dispatch table: a plain
// switch recomputed fresh every tick over the node's (adminAction,
// adminState, operState, availStatus) tuple, routing to one of the
// per-action handlers. Most handlers are single submit-then-wait steps
// against the BMC executor; the enable handler is the one modeled as an
// explicit stateless.StateMachine sub-FSM, per its stage lattice.
package fsm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/mnfa"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
	"github.com/nodemtc/nodemtc/pkg/secretfetch"
)

// pendingOp tracks the single in-flight BMC request a node's currently
// active handler may have outstanding.
type pendingOp struct {
	correlationID string
	stage         string
}

// Dispatcher owns the per-node dispatch loop: one tick evaluates every
// node's dispatch-table row and advances its active handler by one step.
type Dispatcher struct {
	config

	arena     *arena.Arena
	executor  *bmc.Executor
	mnfaCtl   *mnfa.Controller
	inventory external.InventoryMutator
	alarms    external.AlarmSink
	heartbeat external.HeartbeatCommander

	tracer     trace.Tracer
	dispatches metric.Int64Counter

	mu       sync.Mutex
	enablers map[string]*enableHandler
	ops      map[string]pendingOp
	results  map[string]bmc.Result
	fetchers map[string]*secretfetch.Fetcher
	conns    map[string]*bmcConn
}

// New creates a Dispatcher. All arguments must be non-nil.
func New(a *arena.Arena, executor *bmc.Executor, mnfaCtl *mnfa.Controller, inventory external.InventoryMutator, alarms external.AlarmSink, heartbeat external.HeartbeatCommander, opts ...Option) (*Dispatcher, error) {
	if a == nil || executor == nil || mnfaCtl == nil || inventory == nil || alarms == nil || heartbeat == nil {
		return nil, ErrInvalidConfig
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	d := &Dispatcher{
		config:    cfg,
		arena:     a,
		executor:  executor,
		mnfaCtl:   mnfaCtl,
		inventory: inventory,
		alarms:    alarms,
		heartbeat: heartbeat,
		tracer:    otel.Tracer("nodemtc/fsm"),
		enablers:  make(map[string]*enableHandler),
		ops:       make(map[string]pendingOp),
		results:   make(map[string]bmc.Result),
		fetchers:  make(map[string]*secretfetch.Fetcher),
		conns:     make(map[string]*bmcConn),
	}
	d.dispatches, _ = otel.Meter("nodemtc/fsm").Int64Counter("nodemtc.fsm.dispatches",
		metric.WithDescription("Action handler dispatches, by handler."))

	mnfaCtl.SetEnableRestarter(d.restartEnable)
	mnfaCtl.SetRecoveryStarter(d.startRecovery)

	return d, nil
}

// Tick drains completed BMC results, services the MNFA controller, and
// advances every node's active handler by one step.
func (d *Dispatcher) Tick(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "fsm.tick")
	defer span.End()

	d.drainResults()

	if err := d.mnfaCtl.Tick(ctx); err != nil {
		d.logger.WarnContext(ctx, "mnfa tick failed", "error", err)
	}

	d.tickFetchers(ctx)

	var firstErr error
	d.arena.Each(func(n *arena.Node) {
		if err := d.tickNode(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func (d *Dispatcher) drainResults() {
	for {
		select {
		case res := <-d.executor.Results():
			d.mu.Lock()
			d.results[res.Request.CorrelationID] = res
			d.mu.Unlock()
		default:
			return
		}
	}
}

func (d *Dispatcher) result(correlationID string) (bmc.Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.results[correlationID]
	if ok {
		delete(d.results, correlationID)
	}
	return res, ok
}

func (d *Dispatcher) submit(req bmc.Request) error {
	if req.CorrelationID == "" {
		req.CorrelationID = req.Hostname + ":" + uuid.New().String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.stageTimeout)
	defer cancel()
	return d.executor.Submit(ctx, req)
}

func (d *Dispatcher) tickNode(ctx context.Context, n *arena.Node) error {
	// The BMC connection handler, the degrade handler, and the
	// offline/online audit run every tick independent of which action
	// handler (if any) the dispatch table below selects.
	d.runBMCHandler(ctx, n)
	d.runDegradeHandler(ctx, n)
	d.runOfflineHandler(ctx, n)
	d.runOnlineHandler(ctx, n)

	snap := n.Snapshot()

	// Delete is serviced unconditionally ahead of the dispatch table: an
	// operator tearing down a node should not have to first fight it back
	// to a table-matched steady state.
	if snap.Action == mtctypes.ActionDelete {
		n.Lock()
		changed := n.ActiveHandler != mtctypes.HandlerDelete
		if changed {
			n.ActiveHandler = mtctypes.HandlerDelete
		}
		n.Unlock()
		if changed {
			d.resetHandlerState(n.Hostname, mtctypes.HandlerDelete)
		}
		return d.handleDelete(ctx, n)
	}

	n.Lock()
	configAction := n.ConfigAction
	n.Unlock()
	if configAction != "" {
		n.Lock()
		changed := n.ActiveHandler != mtctypes.HandlerConfig
		if changed {
			n.ActiveHandler = mtctypes.HandlerConfig
		}
		n.Unlock()
		if changed {
			d.resetHandlerState(n.Hostname, mtctypes.HandlerConfig)
		}
		return d.handleConfig(ctx, n, configAction)
	}

	handler, poweronTransition := selectHandler(snap)

	if poweronTransition {
		n.Lock()
		n.Action = mtctypes.ActionPowerOn
		n.Unlock()
		return nil
	}

	n.Lock()
	changed := n.ActiveHandler != handler
	if changed {
		n.ActiveHandler = handler
	}
	n.Unlock()

	if changed {
		d.resetHandlerState(n.Hostname, handler)
	}

	if handler != mtctypes.HandlerNone {
		d.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", string(handler))))
	}

	switch handler {
	case mtctypes.HandlerAdd:
		return d.handleAdd(ctx, n)
	case mtctypes.HandlerDelete:
		return d.handleDelete(ctx, n)
	case mtctypes.HandlerEnable:
		return d.handleEnable(ctx, n)
	case mtctypes.HandlerDisable:
		return d.handleDisable(ctx, n)
	case mtctypes.HandlerReset:
		return d.handleReset(ctx, n)
	case mtctypes.HandlerReboot:
		return d.handleReboot(ctx, n)
	case mtctypes.HandlerReinstall:
		return d.handleReinstall(ctx, n)
	case mtctypes.HandlerPower:
		return d.handlePower(ctx, n)
	case mtctypes.HandlerPowercycle:
		return d.handlePowercycle(ctx, n)
	case mtctypes.HandlerSwact:
		return d.handleSwact(ctx, n)
	case mtctypes.HandlerRecovery:
		return d.handleRecovery(ctx, n)
	case mtctypes.HandlerInsvTest:
		return d.handleInsvTest(ctx, n)
	case mtctypes.HandlerOosTest:
		return d.handleOosTest(ctx, n)
	case mtctypes.HandlerSubfEnable:
		return d.handleSubfEnable(ctx, n)
	case mtctypes.HandlerReject:
		return d.handleReject(ctx, n)
	case mtctypes.HandlerAutoCorrect:
		return d.handleAutoCorrect(ctx, n)
	default:
		return nil
	}
}

func (d *Dispatcher) resetHandlerState(hostname string, handler mtctypes.Handler) {
	d.mu.Lock()
	delete(d.ops, hostname)
	if handler != mtctypes.HandlerEnable {
		delete(d.enablers, hostname)
	}
	d.mu.Unlock()
}

// selectHandler evaluates the dispatch table top-to-bottom, returning the
// handler to run this tick. The second return value reports the one row
// (unlocked + powered_off + no action pending) that mutates AdminAction and
// yields the tick without dispatching any handler.
func selectHandler(s mtctypes.Snapshot) (mtctypes.Handler, bool) {
	switch {
	case s.Action == mtctypes.ActionAdd:
		return mtctypes.HandlerAdd, false
	case s.SteadyInService():
		return mtctypes.HandlerInsvTest, false
	case s.Action == mtctypes.ActionPowerCycle:
		return mtctypes.HandlerPowercycle, false
	case s.Action == mtctypes.ActionReset:
		return mtctypes.HandlerReset, false
	case s.Action == mtctypes.ActionReboot:
		return mtctypes.HandlerReboot, false
	case (s.Admin == mtctypes.AdminUnlocked && s.Oper == mtctypes.OperEnabled && s.Avail == mtctypes.AvailFailed && s.Action == mtctypes.ActionNone) || s.Action == mtctypes.ActionEnable:
		return mtctypes.HandlerEnable, false
	case s.SteadyOutOfService():
		return mtctypes.HandlerOosTest, false
	case s.Action == mtctypes.ActionRecover && s.Admin == mtctypes.AdminUnlocked:
		return mtctypes.HandlerRecovery, false
	case s.UnlockedDisabledRecoverable():
		return mtctypes.HandlerEnable, false
	case s.Admin == mtctypes.AdminUnlocked && s.Avail == mtctypes.AvailPoweredOff && s.Action == mtctypes.ActionNone:
		return mtctypes.HandlerNone, true
	case s.Action == mtctypes.ActionUnlock:
		return mtctypes.HandlerEnable, false
	case s.Action == mtctypes.ActionEnableSubfunction:
		return mtctypes.HandlerSubfEnable, false
	case s.Action == mtctypes.ActionLock || s.Action == mtctypes.ActionForceLock:
		return mtctypes.HandlerDisable, false
	case s.Admin == mtctypes.AdminUnlocked && (s.Action == mtctypes.ActionPowerOff || s.Action == mtctypes.ActionReset || s.Action == mtctypes.ActionReboot || s.Action == mtctypes.ActionReinstall):
		return mtctypes.HandlerReject, false
	case s.Action == mtctypes.ActionReinstall:
		return mtctypes.HandlerReinstall, false
	case s.Action == mtctypes.ActionPowerOff:
		return mtctypes.HandlerPower, false
	case s.Action == mtctypes.ActionPowerOn:
		return mtctypes.HandlerPower, false
	case s.Action == mtctypes.ActionSwact || s.Action == mtctypes.ActionForceSwact:
		return mtctypes.HandlerSwact, false
	case s.Admin == mtctypes.AdminUnlocked && s.Oper == mtctypes.OperEnabled && s.Avail == mtctypes.AvailDegraded && s.Action == mtctypes.ActionNone:
		return mtctypes.HandlerNone, false
	default:
		return mtctypes.HandlerAutoCorrect, false
	}
}

func (d *Dispatcher) tickFetchers(ctx context.Context) {
	d.mu.Lock()
	fetchers := make([]*secretfetch.Fetcher, 0, len(d.fetchers))
	for _, f := range d.fetchers {
		fetchers = append(fetchers, f)
	}
	d.mu.Unlock()

	for _, f := range fetchers {
		if err := f.Tick(ctx); err != nil {
			d.logger.WarnContext(ctx, "secret fetcher tick failed", "error", err)
		}
	}
}

func (d *Dispatcher) fetcherFor(n *arena.Node) *secretfetch.Fetcher {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.fetchers[n.Hostname]
	if !ok && d.secretBaseURL != "" {
		f = secretfetch.New(n.UUID, n.Hostname, d.secretBaseURL, d.httpClient)
		d.fetchers[n.Hostname] = f
	}
	return f
}

func (d *Dispatcher) dropFetcher(hostname string) {
	d.mu.Lock()
	delete(d.fetchers, hostname)
	d.mu.Unlock()
}

// restartEnable is the MNFA controller's EnableRestarter callback.
func (d *Dispatcher) restartEnable(hostname string) {
	d.mu.Lock()
	h, ok := d.enablers[hostname]
	d.mu.Unlock()
	if !ok {
		return
	}
	h.restart(context.Background())
}

// startRecovery is the MNFA controller's RecoveryStarter callback: restart
// the enable handler from its failure stage for a host regaining heartbeat.
func (d *Dispatcher) startRecovery(hostname string) {
	d.restartEnable(hostname)
}
