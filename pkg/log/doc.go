// SPDX-License-Identifier: BSD-3-Clause

// Package log provides structured logging with dual output to console and
// OpenTelemetry. It wraps zerolog and the OpenTelemetry slog bridge behind
// the standard library's log/slog.Logger, and supplies adapters for the
// third-party libraries the daemon embeds (the NATS server, the oversight
// supervision tree) so every subsystem's log lines share one format.
//
// # Basic usage
//
//	logger := log.GetGlobalLogger()
//	logger.Info("node maintenance daemon starting", "hostname", host, "mnfa_threshold", 3)
//	logger.Error("bmc action failed", "hostname", host, "action", "power-reset", "error", err)
//
// # Adapters
//
// NewNATSLogger wraps a *slog.Logger as a NATS server.Logger so the embedded
// message bus logs through the same pipeline. NewOversightLogger does the
// same for the supervision tree. Both are passed in at construction time by
// the service that owns the corresponding third-party component; nothing in
// this package reaches into global state to install them.
package log
