// SPDX-License-Identifier: BSD-3-Clause

// Package operator provides the service orchestrator for the node maintenance
// control plane. It acts as the root of the supervision tree, handling service
// lifecycle management, inter-process communication setup, and automatic
// restart of failed services.
//
// The operator service is the main entry point of the daemon and is
// responsible for starting, monitoring, and coordinating the hosted services:
//
//   - IPC: the embedded NATS server every other service communicates over
//     (highest priority, started first)
//   - Nodemtcd: the per-node maintenance FSM, MNFA controller, and BMC
//     executor pool
//   - Hostwd: the host watchdog quorum daemon
//   - Additional custom services via WithExtraServices
//
// # Supervision and Fault Tolerance
//
// The operator follows a supervision tree pattern: services are organized
// under a root supervisor with a transient restart policy, so a crashed
// service is restarted without taking down its siblings. Timeouts for service
// startup and shutdown are configurable, and all service state changes are
// logged.
//
// # Inter-Process Communication
//
// The operator either starts its own IPC service (an embedded NATS server)
// and hands every hosted service a connection provider for it, or reuses an
// externally supplied nats.InProcessConnProvider. If both are available, the
// external connection takes precedence and no second IPC service is started.
//
// # Configuration
//
// The operator supports configuration through the options pattern:
//
//	op := operator.New(
//		operator.WithName("nodemtcd"),
//		operator.WithTimeout(30*time.Second),
//		operator.WithIPC(
//			ipc.WithServerName("nodemtc-ipc"),
//		),
//		operator.WithNodemtcd(
//			nodemtcd.WithTickInterval(time.Second),
//		),
//		operator.WithExtraServices(myCustomService),
//	)
//
// # System Initialization
//
// Besides service supervision, the operator handles OpenTelemetry setup,
// persistent ID generation, global logger configuration, and the startup
// logo.
package operator
