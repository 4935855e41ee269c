// SPDX-License-Identifier: BSD-3-Clause

// Package hostwd wraps pkg/hostwd as a service.Service so the host watchdog
// daemon is supervised by the same oversight tree as the other
// daemons, even though it has no NATS-facing contract of its own -- its
// provided interface is the abstract PMON datagram socket, not IPC.
package hostwd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/nodemtc/nodemtc/pkg/hostwd"
	"github.com/nodemtc/nodemtc/pkg/log"
	"github.com/nodemtc/nodemtc/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time assertion that Hostwd implements service.Service.
var _ service.Service = (*Hostwd)(nil)

// Hostwd supervises the host watchdog daemon.
type Hostwd struct {
	config
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a host watchdog service. Watchdog behavior is configured via
// WithWatchdogOptions, passed straight through to hostwd.New on Run.
func New(opts ...Option) *Hostwd {
	cfg := config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return &Hostwd{config: cfg}
}

// Name returns the service name as configured.
func (s *Hostwd) Name() string {
	return s.serviceName
}

// Run builds and runs the watchdog daemon until ctx is canceled.
func (s *Hostwd) Run(ctx context.Context, _ nats.InProcessConnProvider) error {
	s.tracer = otel.Tracer(s.serviceName)
	ctx, span := s.tracer.Start(ctx, "hostwd.Run")
	defer span.End()

	s.logger = log.GetGlobalLogger().With("service", s.serviceName)

	w, err := hostwd.New(s.opts...)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build host watchdog: %w", err)
	}

	s.logger.InfoContext(ctx, "starting host watchdog")
	return w.Run(ctx)
}
