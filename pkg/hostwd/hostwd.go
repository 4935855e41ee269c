// SPDX-License-Identifier: BSD-3-Clause

// Package hostwd implements the host watchdog: a self-contained daemon that
// pets the kernel watchdog, listens for process-monitor liveness datagrams
// on an abstract Unix socket, and performs a staged crash-dump/reboot
// sequence when quorum with the process monitor is lost. It runs as its own
// goroutine independent of the per-node maintenance FSM's tick loop -- it is
// itself the last-resort reset if that loop (or anything else on the host)
// stalls.
package hostwd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nodemtc/nodemtc/pkg/timer"
)

// Watchdog is the host watchdog daemon's core loop, independent of how it is
// supervised (see service/hostwd for the service.Service wrapper).
type Watchdog struct {
	config

	kernwd     *kernelWatchdog
	conn       *net.UnixConn
	graceLoops int

	quorumLosses metric.Int64Counter
}

// New validates opts and returns a Watchdog ready for Run.
func New(opts ...Option) (*Watchdog, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.failureThreshold <= 0 {
		return nil, fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfig)
	}
	w := &Watchdog{config: cfg, graceLoops: cfg.failureThreshold}
	w.quorumLosses, _ = otel.Meter("nodemtc/hostwd").Int64Counter("nodemtc.hostwd.quorum_losses",
		metric.WithDescription("PMON quorum losses, by reason."))
	return w, nil
}

// Run opens the kernel watchdog device (if enabled) and the PMON socket,
// then services both until ctx is canceled, at which point it performs the
// exit-time disarm-or-leave-ticking decision.
func (w *Watchdog) Run(ctx context.Context) error {
	if w.useKernWD && w.kernUpdatePeriod >= MinKernUpdatePeriod {
		kw, err := openKernelWatchdog(w.watchdogDevice, kernelTimeoutSeconds(w.kernUpdatePeriod))
		if err != nil {
			return err
		}
		w.kernwd = kw
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: w.socketName, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("listen pmon socket %s: %w", w.socketName, err)
	}
	w.conn = conn
	defer conn.Close()

	msgCh := make(chan pmonCommand, 16)
	errCh := make(chan error, 1)
	go w.readLoop(ctx, msgCh, errCh)

	petTicker := time.NewTicker(1 * time.Second)
	defer petTicker.Stop()

	checkTicker := time.NewTicker(200 * time.Millisecond)
	defer checkTicker.Stop()

	updateTimer := timer.New("pmon-update")
	updateTimer.Start(w.updatePeriod*2, "update")

	forceTimer := timer.New("force-reboot")
	gracefulTimer := timer.New("graceful-reboot")

	for {
		select {
		case <-ctx.Done():
			return w.exit(ctx)

		case <-petTicker.C:
			if w.kernwd != nil {
				if err := w.kernwd.pet(); err != nil {
					w.logger.WarnContext(ctx, "kernel watchdog pet failed", "error", err)
				}
			}

		case cmd := <-msgCh:
			switch cmd {
			case pmonHealthy:
				w.graceLoops = w.failureThreshold
				updateTimer.Reset()
			case pmonCrit:
				w.declareUnhealthy(ctx, forceTimer, gracefulTimer, "pmon-crit")
			}

		case err := <-errCh:
			w.logger.WarnContext(ctx, "pmon datagram rejected", "error", err)

		case <-checkTicker.C:
			if updateTimer.Ring() {
				if !w.lockFilePresent() {
					w.graceLoops--
					if w.graceLoops <= 0 {
						w.declareUnhealthy(ctx, forceTimer, gracefulTimer, "grace-exhausted")
					}
				}
				updateTimer.Reset()
			}
			if forceTimer.Ring() {
				if err := w.rebooter.ForceReboot(ctx); err != nil {
					w.logger.ErrorContext(ctx, "forced reboot failed", "error", err)
				}
			}
			if gracefulTimer.Ring() {
				if err := w.rebooter.GracefulReboot(ctx); err != nil {
					w.logger.ErrorContext(ctx, "graceful reboot failed", "error", err)
				}
			}
		}
	}
}

// kernelTimeoutSeconds derives the kernel-side watchdog timeout from the
// configured update period, giving the kernel some margin over our own
// petting interval before it would fire on its own.
func kernelTimeoutSeconds(period time.Duration) int {
	seconds := int(period.Seconds()*2 + 1)
	if seconds < 2 {
		seconds = 2
	}
	return seconds
}

func (w *Watchdog) readLoop(ctx context.Context, msgCh chan<- pmonCommand, errCh chan<- error) {
	buf := make([]byte, pmonMessageSize+16)
	for {
		n, _, err := w.conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case errCh <- err:
			case <-ctx.Done():
				return
			}
			continue
		}

		cmd, err := decodePmonMessage(buf[:n])
		if err != nil {
			select {
			case errCh <- err:
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case msgCh <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

// declareUnhealthy runs the crash-dump-then-reboot sequence, the
// locked-node reboot suppression, and the reboot-and-kdump-both-disabled
// policy escape hatch that lets a quorum failure clear instead of escalating.
func (w *Watchdog) declareUnhealthy(ctx context.Context, forceTimer, gracefulTimer *timer.Timer, reason string) {
	w.quorumLosses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))

	if w.lockFilePresent() {
		w.logger.WarnContext(ctx, "quorum lost but node locked; suppressing crash-dump and reboot",
			"reason", reason, "error", ErrQuorumFailure)
		return
	}

	if !w.rebootOnErr && !w.kdumpOnStall {
		w.logger.WarnContext(ctx, "quorum failure permitted to clear",
			"reason", reason, "error", ErrQuorumFailure)
		w.graceLoops = w.failureThreshold
		return
	}

	if w.kdumpOnStall {
		if err := triggerCrashDump(w.sysrqEnablePath, w.sysrqTriggerPath); err != nil {
			w.logger.WarnContext(ctx, "crash dump unsupported", "error", err)
		}
	}

	emergencyLog(w.consolePath, fmt.Sprintf("hostwd: quorum lost (%s), rebooting", reason))
	w.logger.ErrorContext(ctx, "quorum lost, declaring host unhealthy", "reason", reason, "error", ErrQuorumFailure)

	if w.rebootOnErr {
		forceTimer.Start(ForceRebootDelay, "force")
		gracefulTimer.Start(GracefulRebootDelay, "graceful")
	}
}

func (w *Watchdog) lockFilePresent() bool {
	_, err := os.Stat(w.lockFilePath)
	return err == nil
}

// exit disarms the kernel watchdog on daemon exit unless the
// system is itself in the process of stopping, in which case leaving it
// ticking is the intended last-resort reset.
func (w *Watchdog) exit(ctx context.Context) error {
	if w.kernwd == nil {
		return ctx.Err()
	}

	if w.systemStopping(ctx) {
		if err := w.kernwd.leaveTicking(); err != nil {
			w.logger.WarnContext(ctx, "failed to release kernel watchdog fd", "error", err)
		}
		return ctx.Err()
	}

	if err := w.kernwd.disarm(); err != nil {
		w.logger.WarnContext(ctx, "failed to disarm kernel watchdog", "error", err)
	}
	return ctx.Err()
}

func (w *Watchdog) systemStopping(ctx context.Context) bool {
	queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(queryCtx, "systemctl", "is-system-running").Output()
	if err != nil && len(out) == 0 {
		return false
	}
	return strings.TrimSpace(string(out)) == "stopping"
}
