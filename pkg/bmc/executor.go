// SPDX-License-Identifier: BSD-3-Clause

package bmc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Executor is a bounded worker pool that services BMC Requests
// asynchronously. Workers never touch node records: they consume an
// immutable Request and produce a Result, which the FSM's main loop drains
// from Results once per tick and applies under single-threaded discipline.
type Executor struct {
	config

	submit  chan Request
	results chan Result

	verbCache sync.Map // hostname -> map[Command]ActionVerbs
	verCache  sync.Map // hostname -> redfishVersion

	tracer   trace.Tracer
	commands metric.Int64Counter

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// New creates an Executor with the given options and starts its workers.
func New(opts ...Option) *Executor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	e := &Executor{
		config:  cfg,
		submit:  make(chan Request, cfg.queueDepth),
		results: make(chan Result, cfg.queueDepth),
		closed:  make(chan struct{}),
		tracer:  otel.Tracer("nodemtc/bmc"),
	}
	e.commands, _ = otel.Meter("nodemtc/bmc").Int64Counter("nodemtc.bmc.commands",
		metric.WithDescription("Out-of-band command outcomes, by command and result."))

	if e.clients == nil {
		e.clients = map[Protocol]protocolClient{
			ProtocolRedfish: newRedfishClient(),
			ProtocolIPMI:    newIPMIClient(),
		}
	}

	for i := 0; i < cfg.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e
}

// Submit enqueues a request. It blocks if the submission queue is full and
// returns ErrExecutorClosed if the executor has been closed.
func (e *Executor) Submit(ctx context.Context, req Request) error {
	select {
	case <-e.closed:
		return ErrExecutorClosed
	default:
	}

	select {
	case e.submit <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closed:
		return ErrExecutorClosed
	}
}

// Results returns the channel the main loop drains once per tick.
func (e *Executor) Results() <-chan Result {
	return e.results
}

// Close stops accepting new requests and waits for in-flight work to finish.
func (e *Executor) Close() {
	e.once.Do(func() {
		close(e.closed)
		close(e.submit)
	})
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for req := range e.submit {
		started := time.Now()
		out, err := e.handle(&req)
		res := Result{
			Request:   req,
			OK:        err == nil,
			Output:    out,
			Err:       err,
			StartedAt: started,
			EndedAt:   time.Now(),
		}
		e.commands.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("command", string(req.Command)),
			attribute.Bool("ok", res.OK),
		))

		select {
		case e.results <- res:
		case <-e.closed:
			return
		}
	}
}

func (e *Executor) handle(req *Request) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.commandTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "bmc."+string(req.Command), trace.WithAttributes(
		attribute.String("hostname", req.Hostname),
	))
	defer span.End()

	protocol, err := e.resolveProtocol(ctx, *req)
	if err != nil {
		return "", err
	}
	req.Protocol = protocol

	client, ok := e.clients[protocol]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}

	if req.Command == CommandPowerOn || req.Command == CommandPowerOff ||
		req.Command == CommandPowerReset || req.Command == CommandPowerCycle {
		verbs := e.cachedVerbs(req.Hostname, req.Command, protocol)
		wantGraceful := req.Verb == VerbGraceful
		chosen, err := verbs.Choose(wantGraceful)
		if err != nil {
			return "", err
		}
		req.Verb = chosen
	}

	dir := outputDir(e.outputBase, protocol)
	cred, err := newCredentialFile(dir, programFor(protocol), req.Hostname, req.Password)
	if err != nil {
		return "", err
	}
	defer cred.close()
	defer cred.unlink()

	op, err := backoff.Retry(ctx, func() (string, error) {
		out, err := client.execute(ctx, *req, cred.Path())
		if err != nil {
			return out, err
		}
		return out, nil
	}, backoff.WithMaxTries(uint(e.retryAttempts)), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return op, fmt.Errorf("%w: %w", ErrPersistentFailure, err)
	}

	return op, nil
}

// resolveProtocol implements the dynamic protocol-discovery policy: issue a
// root query via redfish first, adopt it if the declared version satisfies
// the configured minimum, else fall back to ipmi.
func (e *Executor) resolveProtocol(ctx context.Context, req Request) (Protocol, error) {
	if req.Protocol != ProtocolDynamic {
		return req.Protocol, nil
	}

	if v, ok := e.verCache.Load(req.Hostname); ok {
		if v.(redfishVersion).atLeast(e.minRedfishVersion) {
			return ProtocolRedfish, nil
		}
		return ProtocolIPMI, nil
	}

	redfish, ok := e.clients[ProtocolRedfish]
	if !ok {
		return ProtocolIPMI, nil
	}

	dir := outputDir(e.outputBase, ProtocolRedfish)
	cred, err := newCredentialFile(dir, programFor(ProtocolRedfish), req.Hostname, req.Password)
	if err != nil {
		return ProtocolIPMI, nil
	}
	defer cred.close()

	verbs, ver, err := redfish.query(ctx, req, cred.Path())
	cred.unlink()
	if err != nil {
		return ProtocolIPMI, nil
	}

	e.verCache.Store(req.Hostname, ver)

	if !ver.atLeast(e.minRedfishVersion) {
		return ProtocolIPMI, nil
	}

	// The root query's verbs are not command-specific: cache them for every
	// power command so later commands on this host find them too.
	for _, cmd := range []Command{CommandPowerOn, CommandPowerOff, CommandPowerReset, CommandPowerCycle} {
		e.storeVerbs(req.Hostname, cmd, verbs)
	}
	return ProtocolRedfish, nil
}

// PurgeHost drops a deprovisioned host's cached protocol/verb state and
// sweeps its protocol output directories for stale ephemeral credential
// files. Each command removes its own credential file before the worker
// returns its result, so a stale .{program}-{hostname}-* file here means a
// worker crashed mid-command. The glob is scoped to hostname so purging one host never
// touches another host's in-flight or stale credential files sharing the
// same protocol directory.
func (e *Executor) PurgeHost(hostname string) error {
	e.verbCache.Delete(hostname)
	e.verCache.Delete(hostname)

	var firstErr error
	for protocol := range e.clients {
		dir := outputDir(e.outputBase, protocol)
		pattern := fmt.Sprintf(".%s-%s-*", programFor(protocol), hostname)
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Executor) cachedVerbs(hostname string, cmd Command, protocol Protocol) ActionVerbs {
	if protocol == ProtocolIPMI {
		return ActionVerbs{Graceful: true, Immediate: true}
	}
	m, ok := e.verbCache.Load(hostname)
	if !ok {
		return ActionVerbs{}
	}
	return m.(map[Command]ActionVerbs)[cmd]
}

func (e *Executor) storeVerbs(hostname string, cmd Command, verbs ActionVerbs) {
	raw, _ := e.verbCache.LoadOrStore(hostname, map[Command]ActionVerbs{})
	m := raw.(map[Command]ActionVerbs)
	m[cmd] = verbs
}
