// SPDX-License-Identifier: BSD-3-Clause

package ipc

import (
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

const (
	DefaultServiceName        = "ipc"
	DefaultServiceDescription = "embedded NATS message bus"
	DefaultServiceVersion     = "0.1.0"
	DefaultServerName         = "nodemtc-ipc"
	DefaultStoreDir           = "/var/lib/nodemtc/ipc"
	DefaultMaxMemory          = 64 * 1024 * 1024
	DefaultMaxStorage         = 256 * 1024 * 1024
	DefaultStartupTimeout     = 10 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
)

type config struct {
	serviceName        string
	serviceDescription string
	serviceVersion     string
	serverName         string
	storeDir           string
	enableJetStream    bool
	dontListen         bool
	maxMemory          int64
	maxStorage         int64
	startupTimeout     time.Duration
	shutdownTimeout    time.Duration

	maxConnections int
	maxControlLine int32
	maxPayload     int32
	writeDeadline  time.Duration
	pingInterval   time.Duration
	maxPingsOut    int
}

// Validate checks the configuration for values the NATS server would reject
// at startup.
func (c *config) Validate() error {
	if c.serverName == "" {
		return ErrInvalidServerName
	}
	if c.startupTimeout <= 0 || c.shutdownTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.enableJetStream && c.storeDir == "" {
		return ErrStorageDirInvalid
	}
	return nil
}

// ToServerOptions maps the service configuration onto the embedded NATS
// server's own options struct. DontListen keeps the bus in-process only; no
// TCP listener is opened.
func (c *config) ToServerOptions() *server.Options {
	return &server.Options{
		ServerName:         c.serverName,
		DontListen:         c.dontListen,
		JetStream:          c.enableJetStream,
		StoreDir:           c.storeDir,
		JetStreamMaxMemory: c.maxMemory,
		JetStreamMaxStore:  c.maxStorage,
		MaxConn:            c.maxConnections,
		MaxControlLine:     c.maxControlLine,
		MaxPayload:         c.maxPayload,
		WriteDeadline:      c.writeDeadline,
		PingInterval:       c.pingInterval,
		MaxPingsOut:        c.maxPingsOut,
	}
}

// Option configures the IPC service.
type Option interface {
	apply(*config)
}

type serviceNameOption string

func (o serviceNameOption) apply(c *config) { c.serviceName = string(o) }

// WithServiceName overrides the service's supervision-tree name.
func WithServiceName(name string) Option { return serviceNameOption(name) }

type serverNameOption string

func (o serverNameOption) apply(c *config) { c.serverName = string(o) }

// WithServerName sets the embedded NATS server's name.
func WithServerName(name string) Option { return serverNameOption(name) }

type storeDirOption string

func (o storeDirOption) apply(c *config) { c.storeDir = string(o) }

// WithStoreDir sets the JetStream storage directory.
func WithStoreDir(dir string) Option { return storeDirOption(dir) }

type jetStreamOption bool

func (o jetStreamOption) apply(c *config) { c.enableJetStream = bool(o) }

// WithJetStream enables or disables JetStream persistence.
func WithJetStream(v bool) Option { return jetStreamOption(v) }

type startupTimeoutOption time.Duration

func (o startupTimeoutOption) apply(c *config) { c.startupTimeout = time.Duration(o) }

// WithStartupTimeout bounds how long Run waits for the server to become
// ready before failing.
func WithStartupTimeout(d time.Duration) Option { return startupTimeoutOption(d) }

type shutdownTimeoutOption time.Duration

func (o shutdownTimeoutOption) apply(c *config) { c.shutdownTimeout = time.Duration(o) }

// WithShutdownTimeout bounds the graceful lame-duck shutdown before the
// server is forced down.
func WithShutdownTimeout(d time.Duration) Option { return shutdownTimeoutOption(d) }

type maxMemoryOption int64

func (o maxMemoryOption) apply(c *config) { c.maxMemory = int64(o) }

// WithMaxMemory caps JetStream's in-memory storage, in bytes.
func WithMaxMemory(n int64) Option { return maxMemoryOption(n) }

type maxStorageOption int64

func (o maxStorageOption) apply(c *config) { c.maxStorage = int64(o) }

// WithMaxStorage caps JetStream's on-disk storage, in bytes.
func WithMaxStorage(n int64) Option { return maxStorageOption(n) }
