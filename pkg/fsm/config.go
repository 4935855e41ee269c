// SPDX-License-Identifier: BSD-3-Clause

package fsm

import (
	"log/slog"
	"net/http"
	"time"
)

type config struct {
	stageTimeout        time.Duration
	retryLimit          int
	arBackoffBase       time.Duration
	arBackoffMax        time.Duration
	secretBaseURL       string
	httpClient          *http.Client
	logger              *slog.Logger
	onlineAuditDebounce time.Duration
}

func defaultConfig() config {
	return config{
		stageTimeout:        30 * time.Second,
		retryLimit:          3,
		arBackoffBase:       30 * time.Second,
		arBackoffMax:        30 * time.Minute,
		logger:              slog.Default(),
		onlineAuditDebounce: 20 * time.Second,
	}
}

// Option configures a Dispatcher.
type Option interface {
	apply(*config)
}

type stageTimeoutOption time.Duration

func (o stageTimeoutOption) apply(c *config) { c.stageTimeout = time.Duration(o) }

// WithStageTimeout sets the per-stage timeout used by every handler's
// internal sub-FSM, most visibly the enable handler's stage lattice.
func WithStageTimeout(d time.Duration) Option { return stageTimeoutOption(d) }

type retryLimitOption int

func (o retryLimitOption) apply(c *config) { c.retryLimit = int(o) }

// WithRetryLimit sets how many times a retryable stage failure re-enters
// the same stage before the handler escalates to a fatal failure.
func WithRetryLimit(n int) Option { return retryLimitOption(n) }

type arBackoffOption struct{ base, max time.Duration }

func (o arBackoffOption) apply(c *config) { c.arBackoffBase, c.arBackoffMax = o.base, o.max }

// WithAutoRecoveryBackoff sets the exponential backoff bounds for auto
// recovery re-attempts before ar_disabled latches.
func WithAutoRecoveryBackoff(base, max time.Duration) Option { return arBackoffOption{base, max} }

type secretBaseURLOption string

func (o secretBaseURLOption) apply(c *config) { c.secretBaseURL = string(o) }

// WithSecretBaseURL sets the secret-store endpoint passed to every
// per-host secretfetch.Fetcher the dispatcher creates on demand.
func WithSecretBaseURL(url string) Option { return secretBaseURLOption(url) }

type httpClientOption struct{ client *http.Client }

func (o httpClientOption) apply(c *config) { c.httpClient = o.client }

// WithHTTPClient overrides the HTTP client passed to secret fetchers.
func WithHTTPClient(client *http.Client) Option { return httpClientOption{client} }

type loggerOption struct{ logger *slog.Logger }

func (o loggerOption) apply(c *config) { c.logger = o.logger }

// WithLogger sets the structured logger used for handler diagnostics.
func WithLogger(l *slog.Logger) Option { return loggerOption{logger: l} }

type onlineAuditDebounceOption time.Duration

func (o onlineAuditDebounceOption) apply(c *config) { c.onlineAuditDebounce = time.Duration(o) }

// WithOnlineAuditDebounce sets how long the online/offline audit waits for
// a heartbeat-minor flag to hold steady before flipping an
// out-of-service node's availStatus, so a single transient pulse loss does
// not flap the inventory record.
func WithOnlineAuditDebounce(d time.Duration) Option { return onlineAuditDebounceOption(d) }
