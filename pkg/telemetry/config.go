// SPDX-License-Identifier: BSD-3-Clause

package telemetry

import (
	"errors"
	"time"
)

// Protocol selects the OTLP transport used for all three signals.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http"
)

// ErrUnknownProtocol indicates an endpoint was configured with a transport
// this package has no exporter for.
var ErrUnknownProtocol = errors.New("unknown otlp protocol")

type config struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	protocol       Protocol
	insecure       bool
	exportInterval time.Duration
}

func defaultConfig() config {
	return config{
		serviceName:    "nodemtc",
		serviceVersion: "0.1.0",
		protocol:       ProtocolGRPC,
		exportInterval: time.Minute,
	}
}

// Option configures Setup.
type Option interface {
	apply(*config)
}

type serviceNameOption string

func (o serviceNameOption) apply(c *config) { c.serviceName = string(o) }

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option { return serviceNameOption(name) }

type serviceVersionOption string

func (o serviceVersionOption) apply(c *config) { c.serviceVersion = string(o) }

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(version string) Option { return serviceVersionOption(version) }

type endpointOption struct {
	endpoint string
	protocol Protocol
}

func (o endpointOption) apply(c *config) { c.endpoint, c.protocol = o.endpoint, o.protocol }

// WithOTLPEndpoint enables export of all three signals to an OTLP collector
// at the given endpoint over the given transport. Without it, providers are
// installed with no exporter and every signal is dropped after recording.
func WithOTLPEndpoint(endpoint string, protocol Protocol) Option {
	return endpointOption{endpoint: endpoint, protocol: protocol}
}

type insecureOption bool

func (o insecureOption) apply(c *config) { c.insecure = bool(o) }

// WithInsecure disables transport security on the OTLP connection.
func WithInsecure(v bool) Option { return insecureOption(v) }

type exportIntervalOption time.Duration

func (o exportIntervalOption) apply(c *config) { c.exportInterval = time.Duration(o) }

// WithExportInterval sets the periodic metric reader's export interval.
func WithExportInterval(d time.Duration) Option { return exportIntervalOption(d) }
