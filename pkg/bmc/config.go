// SPDX-License-Identifier: BSD-3-Clause

package bmc

import "time"

type config struct {
	workers        int
	queueDepth     int
	commandTimeout time.Duration
	retryAttempts  int
	outputBase     string

	minRedfishVersion redfishVersion

	clients map[Protocol]protocolClient
}

func defaultConfig() config {
	return config{
		workers:           4,
		queueDepth:        64,
		commandTimeout:    30 * time.Second,
		retryAttempts:     3,
		outputBase:        "/var/run/nodemtc/bmc",
		minRedfishVersion: redfishVersion{Major: 1, Minor: 6},
	}
}

// Option configures an Executor.
type Option interface {
	apply(*config)
}

type workersOption int

func (o workersOption) apply(c *config) { c.workers = int(o) }

// WithWorkers sets the number of concurrent worker goroutines.
func WithWorkers(n int) Option { return workersOption(n) }

type queueDepthOption int

func (o queueDepthOption) apply(c *config) { c.queueDepth = int(o) }

// WithQueueDepth sets the submission and result channel buffer depth.
func WithQueueDepth(n int) Option { return queueDepthOption(n) }

type commandTimeoutOption time.Duration

func (o commandTimeoutOption) apply(c *config) { c.commandTimeout = time.Duration(o) }

// WithCommandTimeout bounds how long a single command (including retries) may run.
func WithCommandTimeout(d time.Duration) Option { return commandTimeoutOption(d) }

type retryAttemptsOption int

func (o retryAttemptsOption) apply(c *config) { c.retryAttempts = int(o) }

// WithRetryAttempts sets the bounded retry count for transient tool failures.
func WithRetryAttempts(n int) Option { return retryAttemptsOption(n) }

type outputBaseOption string

func (o outputBaseOption) apply(c *config) { c.outputBase = string(o) }

// WithOutputBase sets the parent directory protocol-specific output
// directories and ephemeral credential files are created under.
func WithOutputBase(dir string) Option { return outputBaseOption(dir) }

type minRedfishVersionOption redfishVersion

func (o minRedfishVersionOption) apply(c *config) { c.minRedfishVersion = redfishVersion(o) }

// WithMinRedfishVersion sets the minimum major.minor redfish schema version
// required to adopt redfish over ipmi during dynamic protocol discovery.
func WithMinRedfishVersion(major, minor int) Option {
	return minRedfishVersionOption(redfishVersion{Major: major, Minor: minor})
}

type clientsOption map[Protocol]protocolClient

func (o clientsOption) apply(c *config) { c.clients = map[Protocol]protocolClient(o) }
