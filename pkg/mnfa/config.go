// SPDX-License-Identifier: BSD-3-Clause

package mnfa

import (
	"log/slog"
	"time"
)

// FailureAction is the configured hbs_failure_action policy. Only fail and
// degrade drive MNFA's storm-absorption behavior; alarm and none make the
// controller a no-op; alarming is done elsewhere in those modes.
type FailureAction string

const (
	FailureActionFail    FailureAction = "fail"
	FailureActionDegrade FailureAction = "degrade"
	FailureActionAlarm   FailureAction = "alarm"
	FailureActionNone    FailureAction = "none"
)

// noop reports whether this policy disables MNFA's storm absorption.
func (f FailureAction) noop() bool {
	return f == FailureActionAlarm || f == FailureActionNone
}

type config struct {
	threshold     int
	timeout       time.Duration
	debounce      time.Duration
	failureAction FailureAction
	logger        *slog.Logger
}

func defaultConfig() config {
	return config{
		threshold:     2,
		timeout:       5 * time.Minute,
		debounce:      10 * time.Second,
		failureAction: FailureActionFail,
		logger:        slog.Default(),
	}
}

// Option configures a Controller.
type Option interface {
	apply(*config)
}

type thresholdOption int

func (o thresholdOption) apply(c *config) { c.threshold = int(o) }

// WithThreshold sets mnfa_threshold: the cluster-wide count of
// simultaneously heartbeat-minor hosts on one interface that triggers entry.
// Entry is strict >=.
func WithThreshold(n int) Option { return thresholdOption(n) }

type timeoutOption time.Duration

func (o timeoutOption) apply(c *config) { c.timeout = time.Duration(o) }

// WithTimeout sets mnfa_timeout: how long the controller stays active before
// a forced exit drives every AWOL host to failed.
func WithTimeout(d time.Duration) Option { return timeoutOption(d) }

type debounceOption time.Duration

func (o debounceOption) apply(c *config) { c.debounce = time.Duration(o) }

// WithDebounce sets the delay after a graceful exit before recover-heartbeat
// is sent, absorbing any heartbeat flapping right at the exit boundary.
func WithDebounce(d time.Duration) Option { return debounceOption(d) }

type failureActionOption FailureAction

func (o failureActionOption) apply(c *config) { c.failureAction = FailureAction(o) }

// WithFailureAction sets hbs_failure_action. alarm and none disable MNFA's
// storm absorption entirely (the policy escape hatch); the controller then
// never enters regardless of how many hosts report heartbeat-minor.
func WithFailureAction(a FailureAction) Option { return failureActionOption(a) }

type loggerOption struct{ logger *slog.Logger }

func (o loggerOption) apply(c *config) { c.logger = o.logger }

// WithLogger sets the structured logger used for the mnfa pool log line.
func WithLogger(l *slog.Logger) Option { return loggerOption{logger: l} }
