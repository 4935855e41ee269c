// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import (
	"log/slog"
	"time"
)

// ForceRebootDelay and GracefulRebootDelay stagger the two escalation
// timers armed by a declare-unhealthy: the forced (sysrq-based) reset fires
// 300s after, the graceful reboot request 60s after.
const (
	ForceRebootDelay    = 300 * time.Second
	GracefulRebootDelay = 60 * time.Second
)

// MinKernUpdatePeriod is the minimum kernel watchdog update period below
// which the kernel watchdog is not enabled at all; petting becomes a no-op.
const MinKernUpdatePeriod = 100 * time.Millisecond

// defaultUpdatePeriod is how often the PMON liveness timer is re-armed
// before being doubled to absorb scheduling jitter.
const defaultUpdatePeriod = 1 * time.Second

const defaultSocketName = "@hostwd"
const defaultWatchdogDevice = "/dev/watchdog"
const defaultSysrqEnablePath = "/proc/sys/kernel/sysrq"
const defaultSysrqTriggerPath = "/proc/sysrq-trigger"
const defaultLockFilePath = "/var/run/.node_locked"

type config struct {
	failureThreshold int
	rebootOnErr      bool
	useKernWD        bool
	kdumpOnStall     bool
	consolePath      string
	updatePeriod     time.Duration
	kernUpdatePeriod time.Duration

	socketName        string
	watchdogDevice    string
	sysrqEnablePath   string
	sysrqTriggerPath  string
	lockFilePath      string

	rebooter Rebooter
	logger   *slog.Logger
}

func defaultConfig() config {
	return config{
		failureThreshold: 3,
		rebootOnErr:      true,
		useKernWD:        true,
		kdumpOnStall:     true,
		consolePath:      "/dev/console",
		updatePeriod:     defaultUpdatePeriod,
		kernUpdatePeriod: defaultUpdatePeriod,

		socketName:       defaultSocketName,
		watchdogDevice:   defaultWatchdogDevice,
		sysrqEnablePath:  defaultSysrqEnablePath,
		sysrqTriggerPath: defaultSysrqTriggerPath,
		lockFilePath:     defaultLockFilePath,

		rebooter: systemRebooter{},
		logger:   slog.Default(),
	}
}

// Option configures a Watchdog.
type Option interface {
	apply(*config)
}

type failureThresholdOption int

func (o failureThresholdOption) apply(c *config) { c.failureThreshold = int(o) }

// WithFailureThreshold sets hostwd_failure_threshold: the number of
// consecutive missed PMON liveness messages tolerated before quorum is
// declared lost.
func WithFailureThreshold(n int) Option { return failureThresholdOption(n) }

type rebootOnErrOption bool

func (o rebootOnErrOption) apply(c *config) { c.rebootOnErr = bool(o) }

// WithRebootOnErr sets hostwd_reboot_on_err.
func WithRebootOnErr(v bool) Option { return rebootOnErrOption(v) }

type useKernWDOption bool

func (o useKernWDOption) apply(c *config) { c.useKernWD = bool(o) }

// WithUseKernWD sets hostwd_use_kern_wd.
func WithUseKernWD(v bool) Option { return useKernWDOption(v) }

type kdumpOnStallOption bool

func (o kdumpOnStallOption) apply(c *config) { c.kdumpOnStall = bool(o) }

// WithKdumpOnStall sets hostwd_kdump_on_stall.
func WithKdumpOnStall(v bool) Option { return kdumpOnStallOption(v) }

type consolePathOption string

func (o consolePathOption) apply(c *config) { c.consolePath = string(o) }

// WithConsolePath sets hostwd_console_path, the device mirrored on
// emergency log output.
func WithConsolePath(path string) Option { return consolePathOption(path) }

type updatePeriodOption time.Duration

func (o updatePeriodOption) apply(c *config) { c.updatePeriod = time.Duration(o) }

// WithUpdatePeriod sets hostwd_update_period; the PMON liveness timer is
// armed at twice this value to absorb scheduling jitter.
func WithUpdatePeriod(d time.Duration) Option { return updatePeriodOption(d) }

type kernUpdatePeriodOption time.Duration

func (o kernUpdatePeriodOption) apply(c *config) { c.kernUpdatePeriod = time.Duration(o) }

// WithKernUpdatePeriod sets kernwd_update_period. Below MinKernUpdatePeriod
// the kernel watchdog is never enabled regardless of WithUseKernWD.
func WithKernUpdatePeriod(d time.Duration) Option { return kernUpdatePeriodOption(d) }

type socketNameOption string

func (o socketNameOption) apply(c *config) { c.socketName = string(o) }

// WithSocketName overrides the abstract Unix datagram socket name PMON
// liveness messages are received on (default "@hostwd").
func WithSocketName(name string) Option { return socketNameOption(name) }

type watchdogDeviceOption string

func (o watchdogDeviceOption) apply(c *config) { c.watchdogDevice = string(o) }

// WithWatchdogDevice overrides the kernel watchdog device path.
func WithWatchdogDevice(path string) Option { return watchdogDeviceOption(path) }

type lockFilePathOption string

func (o lockFilePathOption) apply(c *config) { c.lockFilePath = string(o) }

// WithLockFilePath overrides the locked-node marker file whose presence
// suppresses a forced reboot.
func WithLockFilePath(path string) Option { return lockFilePathOption(path) }

type rebooterOption struct{ r Rebooter }

func (o rebooterOption) apply(c *config) { c.rebooter = o.r }

// WithRebooter overrides the Rebooter used for the graceful and forced
// reboot actions; primarily for tests.
func WithRebooter(r Rebooter) Option { return rebooterOption{r: r} }

type loggerOption struct{ logger *slog.Logger }

func (o loggerOption) apply(c *config) { c.logger = o.logger }

// WithLogger sets the structured logger used for diagnostics and the
// emergency console mirror.
func WithLogger(l *slog.Logger) Option { return loggerOption{logger: l} }
