// SPDX-License-Identifier: BSD-3-Clause

// Package telemetry initializes the process-wide OpenTelemetry providers for
// the node maintenance daemons. Setup installs tracer, meter, and logger
// providers globally; the maintenance packages pick them up through
// otel.Tracer/otel.Meter with their own instrument names (fsm tick spans,
// mnfa entry/exit counters, bmc command outcomes, watchdog quorum losses).
// With no exporter configured every signal is recorded against a provider
// with no processors attached, which is the cheapest way to keep the
// instrumentation call sites unconditional.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	setupMu   sync.Mutex
	setupDone bool

	defaultOnce sync.Once
)

// ErrAlreadyInitialized indicates Setup was called twice in one process.
var ErrAlreadyInitialized = errors.New("telemetry already initialized")

// DefaultSetup initializes telemetry with defaults and no exporter. It is
// safe to call from multiple services; only the first call does anything.
// The operator uses it as the default otelSetup hook so the global logger's
// OTel bridge always has a provider to talk to.
func DefaultSetup() {
	defaultOnce.Do(func() {
		_, _ = Setup(context.Background())
	})
}

// Setup builds and installs the global tracer, meter, and logger providers.
// It returns a shutdown function that flushes and stops all three.
func Setup(ctx context.Context, opts ...Option) (func(context.Context) error, error) {
	setupMu.Lock()
	defer setupMu.Unlock()

	if setupDone {
		return func(context.Context) error { return nil }, ErrAlreadyInitialized
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.serviceName),
		semconv.ServiceVersion(cfg.serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	tracerProvider, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	meterProvider, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}
	loggerProvider, err := newLoggerProvider(ctx, cfg, res)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	global.SetLoggerProvider(loggerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	setupDone = true

	return func(shutdownCtx context.Context) error {
		setupMu.Lock()
		defer setupMu.Unlock()
		setupDone = false
		return errors.Join(
			tracerProvider.Shutdown(shutdownCtx),
			meterProvider.Shutdown(shutdownCtx),
			loggerProvider.Shutdown(shutdownCtx),
		)
	}, nil
}

func newTracerProvider(ctx context.Context, cfg config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.endpoint != "" {
		exporter, err := newTraceExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func newMeterProvider(ctx context.Context, cfg config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.endpoint != "" {
		exporter, err := newMetricExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.exportInterval)),
		))
	}
	return sdkmetric.NewMeterProvider(opts...), nil
}

func newLoggerProvider(ctx context.Context, cfg config, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	if cfg.endpoint != "" {
		exporter, err := newLogExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)))
	}
	return sdklog.NewLoggerProvider(opts...), nil
}
