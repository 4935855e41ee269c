// SPDX-License-Identifier: BSD-3-Clause

package nodemtcd

import (
	"time"

	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/fsm"
	"github.com/nodemtc/nodemtc/pkg/mnfa"
)

const DefaultServiceName = "nodemtcd"
const defaultTickInterval = 500 * time.Millisecond

type config struct {
	serviceName  string
	tickInterval time.Duration

	bmcOpts  []bmc.Option
	mnfaOpts []mnfa.Option
	fsmOpts  []fsm.Option
}

func defaultConfig() config {
	return config{
		serviceName:  DefaultServiceName,
		tickInterval: defaultTickInterval,
	}
}

// Option configures the nodemtcd service.
type Option interface {
	apply(*config)
}

type serviceNameOption string

func (o serviceNameOption) apply(c *config) { c.serviceName = string(o) }

// WithServiceName overrides the service's supervision-tree name.
func WithServiceName(name string) Option { return serviceNameOption(name) }

type tickIntervalOption time.Duration

func (o tickIntervalOption) apply(c *config) { c.tickInterval = time.Duration(o) }

// WithTickInterval sets how often the dispatch loop ticks every node's
// active handler and the MNFA controller forward by one step.
func WithTickInterval(d time.Duration) Option { return tickIntervalOption(d) }

type bmcOptionsOption struct{ opts []bmc.Option }

func (o bmcOptionsOption) apply(c *config) { c.bmcOpts = append(c.bmcOpts, o.opts...) }

// WithBMCOptions passes configuration options through to the BMC executor.
func WithBMCOptions(opts ...bmc.Option) Option { return bmcOptionsOption{opts: opts} }

type mnfaOptionsOption struct{ opts []mnfa.Option }

func (o mnfaOptionsOption) apply(c *config) { c.mnfaOpts = append(c.mnfaOpts, o.opts...) }

// WithMNFAOptions passes configuration options through to the MNFA controller.
func WithMNFAOptions(opts ...mnfa.Option) Option { return mnfaOptionsOption{opts: opts} }

type fsmOptionsOption struct{ opts []fsm.Option }

func (o fsmOptionsOption) apply(c *config) { c.fsmOpts = append(c.fsmOpts, o.opts...) }

// WithFSMOptions passes configuration options through to the node dispatcher.
func WithFSMOptions(opts ...fsm.Option) Option { return fsmOptionsOption{opts: opts} }
