// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import "github.com/nodemtc/nodemtc/pkg/hostwd"

const DefaultServiceName = "hostwd"

type config struct {
	serviceName string
	opts        []hostwd.Option
}

// Option configures the hostwd service.
type Option interface {
	apply(*config)
}

type serviceNameOption string

func (o serviceNameOption) apply(c *config) { c.serviceName = string(o) }

// WithServiceName overrides the service's supervision-tree name.
func WithServiceName(name string) Option { return serviceNameOption(name) }

type watchdogOptionsOption struct{ opts []hostwd.Option }

func (o watchdogOptionsOption) apply(c *config) { c.opts = append(c.opts, o.opts...) }

// WithWatchdogOptions passes configuration options through to the underlying
// hostwd.Watchdog (failure threshold, device paths, reboot policy, ...).
func WithWatchdogOptions(opts ...hostwd.Option) Option { return watchdogOptionsOption{opts: opts} }
