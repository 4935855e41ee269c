// SPDX-License-Identifier: BSD-3-Clause

// Package nodemtcd wraps the per-node FSM, the MNFA controller, and the BMC
// executor as a single service.Service so the node maintenance daemon is
// supervised by the same oversight tree as the other daemons. It owns
// the NATS wiring for the inventory mutator, heartbeat commander, and alarm
// sink the FSM consumes, the inbound heartbeat-loss/-restore ingress
// that drives the MNFA controller, and the node.action/node.info/node.list
// endpoints an upward-facing REST layer would call into.
package nodemtcd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/nodemtc/nodemtc/pkg/arena"
	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/external"
	"github.com/nodemtc/nodemtc/pkg/fsm"
	"github.com/nodemtc/nodemtc/pkg/ipc"
	"github.com/nodemtc/nodemtc/pkg/log"
	"github.com/nodemtc/nodemtc/pkg/mnfa"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
	"github.com/nodemtc/nodemtc/service"
)

// Compile-time assertion that Nodemtcd implements service.Service.
var _ service.Service = (*Nodemtcd)(nil)

// Nodemtcd is the node maintenance daemon: the per-node FSM dispatcher, the
// MNFA controller, and the BMC executor pool, ticked once per interval from
// a single goroutine; all per-node state stays single-threaded.
type Nodemtcd struct {
	config

	logger *slog.Logger

	arena      *arena.Arena
	executor   *bmc.Executor
	mnfaCtl    *mnfa.Controller
	dispatcher *fsm.Dispatcher

	nc  *nats.Conn
	svc micro.Service
}

// New creates a Nodemtcd service. Dependencies are built lazily on Run, once
// the IPC connection provider is available.
func New(opts ...Option) *Nodemtcd {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return &Nodemtcd{config: cfg}
}

// Name returns the service's supervision-tree name.
func (s *Nodemtcd) Name() string {
	return s.serviceName
}

// Run builds the FSM dispatcher's collaborators over the given IPC
// connection, then ticks the dispatcher at the configured interval until ctx
// is canceled.
func (s *Nodemtcd) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) (err error) {
	s.logger = log.GetGlobalLogger().With("service", s.serviceName)

	if ipcConn == nil {
		return ErrIPCConnNil
	}

	nc, err := nats.Connect("", nats.InProcessServer(ipcConn))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIPCConnectionFailed, err)
	}
	s.nc = nc
	defer nc.Close()

	inventory := external.NewNATSInventoryMutator(nc)
	heartbeat := external.NewNATSHeartbeatCommander(nc)
	alarms := external.NewNATSAlarmSink(nc)

	s.arena = arena.New()
	s.executor = bmc.New(s.bmcOpts...)
	defer s.executor.Close()

	s.mnfaCtl, err = mnfa.New(s.arena, heartbeat, alarms, inventory, s.mnfaOpts...)
	if err != nil {
		return fmt.Errorf("build mnfa controller: %w", err)
	}

	s.dispatcher, err = fsm.New(s.arena, s.executor, s.mnfaCtl, inventory, alarms, heartbeat, s.fsmOpts...)
	if err != nil {
		return fmt.Errorf("build node dispatcher: %w", err)
	}

	if err := s.subscribeHeartbeatIngress(ctx); err != nil {
		return fmt.Errorf("subscribe heartbeat ingress: %w", err)
	}

	if err := s.startMicroService(); err != nil {
		return fmt.Errorf("start node micro service: %w", err)
	}
	defer func() {
		if s.svc != nil {
			_ = s.svc.Stop()
		}
	}()

	s.logger.InfoContext(ctx, "node maintenance daemon started", "tick_interval", s.tickInterval)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.dispatcher.Tick(ctx); err != nil {
				s.logger.WarnContext(ctx, "dispatcher tick failed", "error", err)
			}
		}
	}
}

// subscribeHeartbeatIngress wires the heartbeat service's loss/restore
// reports into the MNFA controller. Payloads are "hostname|iface" for minor
// reports and "hostname" for restores; malformed payloads are dropped with a
// warning rather than panicking the subscription's delivery goroutine.
func (s *Nodemtcd) subscribeHeartbeatIngress(ctx context.Context) error {
	if _, err := s.nc.Subscribe(ipc.SubjectHeartbeatMinor, func(msg *nats.Msg) {
		hostname, iface, ok := parseMinorPayload(string(msg.Data))
		if !ok {
			s.logger.WarnContext(ctx, "malformed heartbeat-minor payload", "payload", string(msg.Data))
			return
		}
		n, ok := s.arena.Get(hostname)
		if !ok {
			return
		}
		if err := s.mnfaCtl.AddHost(ctx, n, iface); err != nil {
			s.logger.WarnContext(ctx, "mnfa add-host failed", "hostname", hostname, "error", err)
		}
	}); err != nil {
		return err
	}

	if _, err := s.nc.Subscribe(ipc.SubjectHeartbeatRestored, func(msg *nats.Msg) {
		hostname := string(msg.Data)
		if err := s.mnfaCtl.RecoverHost(ctx, hostname); err != nil {
			s.logger.WarnContext(ctx, "mnfa recover-host failed", "hostname", hostname, "error", err)
		}
	}); err != nil {
		return err
	}

	return nil
}

func parseMinorPayload(payload string) (hostname string, iface arena.Iface, ok bool) {
	parts := strings.SplitN(payload, "|", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, false
	}
	switch parts[1] {
	case "management":
		return parts[0], arena.IfaceManagement, true
	case "cluster-host":
		return parts[0], arena.IfaceClusterHost, true
	default:
		return "", 0, false
	}
}

// startMicroService registers the node.action/node.info/node.list endpoints
// a REST-facing layer calls into to drive the FSM.
func (s *Nodemtcd) startMicroService() error {
	svc, err := micro.AddService(s.nc, micro.Config{
		Name:    "nodemtcd",
		Version: "0.1.0",
	})
	if err != nil {
		return err
	}
	s.svc = svc

	groups := make(map[string]micro.Group)

	if err := ipc.RegisterEndpointWithGroupCache(svc, ipc.SubjectNodeAction, micro.HandlerFunc(s.handleNodeAction), groups); err != nil {
		return err
	}
	if err := ipc.RegisterEndpointWithGroupCache(svc, ipc.SubjectNodeInfo, micro.HandlerFunc(s.handleNodeInfo), groups); err != nil {
		return err
	}
	if err := ipc.RegisterEndpointWithGroupCache(svc, ipc.SubjectNodeList, micro.HandlerFunc(s.handleNodeList), groups); err != nil {
		return err
	}
	return nil
}

// handleNodeAction services "hostname|action" requests by setting the
// node's pending admin action; the dispatcher's next tick picks it up.
func (s *Nodemtcd) handleNodeAction(req micro.Request) {
	ctx := context.Background()
	parts := strings.SplitN(string(req.Data()), "|", 2)
	if len(parts) != 2 {
		ipc.RespondWithError(ctx, req, ipc.ErrMissingRequiredField, "expected hostname|action")
		return
	}
	hostname, actionStr := parts[0], parts[1]

	action, ok := mtctypes.ParseAdminAction(actionStr)
	if !ok {
		ipc.RespondWithError(ctx, req, ipc.ErrInvalidTrigger, "unknown action "+actionStr)
		return
	}

	n, ok := s.arena.Get(hostname)
	if !ok {
		ipc.RespondWithError(ctx, req, ipc.ErrComponentNotFound, hostname)
		return
	}

	n.Lock()
	n.Action = action
	n.Unlock()

	if err := req.Respond([]byte("ok")); err != nil {
		s.logger.WarnContext(ctx, "node.action respond failed", "hostname", hostname, "error", err)
	}
}

// handleNodeInfo answers a single node's dispatch snapshot in its
// space-separated key=value String() form; the REST layer owning JSON
// shaping is out of scope.
func (s *Nodemtcd) handleNodeInfo(req micro.Request) {
	ctx := context.Background()
	hostname := string(req.Data())

	n, ok := s.arena.Get(hostname)
	if !ok {
		ipc.RespondWithError(ctx, req, ipc.ErrComponentNotFound, hostname)
		return
	}

	snap := n.Snapshot()
	if err := req.Respond([]byte(snap.String())); err != nil {
		s.logger.WarnContext(ctx, "node.info respond failed", "hostname", hostname, "error", err)
	}
}

// handleNodeList answers the space-joined hostnames currently tracked.
func (s *Nodemtcd) handleNodeList(req micro.Request) {
	ctx := context.Background()
	names := s.arena.Hostnames()
	if err := req.Respond([]byte(strings.Join(names, " "))); err != nil {
		s.logger.WarnContext(ctx, "node.list respond failed", "error", err)
	}
}

// AddNode provisions a new node into the arena with an add action pending,
// the entry point inventory reconcile drives on discovery of
// a cluster member not yet tracked.
func (s *Nodemtcd) AddNode(hostname, bmcIP, bmcUser string) error {
	return s.arena.Add(&arena.Node{
		Hostname: hostname,
		UUID:     uuid.New(),
		BMCIP:    bmcIP,
		BMCUser:  bmcUser,
		Admin:    mtctypes.AdminLocked,
		Oper:     mtctypes.OperDisabled,
		Avail:    mtctypes.AvailOffline,
		Action:   mtctypes.ActionAdd,
	})
}
