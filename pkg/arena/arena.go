// SPDX-License-Identifier: BSD-3-Clause

// Package arena holds the in-memory node table the per-node FSM and the MNFA
// controller operate over. Nodes are kept in a dense slice rather than the
// original implementation's cyclic linked list: a cluster's node count is
// small and bounded, so a slice plus two lookup maps gives O(1) lookup by
// hostname or uuid and cheap ordered iteration, without pointer-chasing or
// list-corruption hazards.
package arena

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodemtc/nodemtc/pkg/bmc"
	"github.com/nodemtc/nodemtc/pkg/mtctypes"
)

// Iface indexes the two heartbeat-monitored interfaces a node carries.
type Iface int

const (
	IfaceManagement Iface = iota
	IfaceClusterHost
	ifaceCount
)

// BMCState is the per-node out-of-band management connection cache: the
// protocol capability/connection bookkeeping the FSM's BMC handler owns,
// distinct from the executor's own protocol/verb cache which
// is keyed by hostname on the Executor side.
type BMCState struct {
	Protocol     bmc.Protocol
	ConnectionUp bool
	PoweredOn    bool
	LastQueryAt  time.Time
	LastQueryOK  bool
}

// reset zeroes the capability cache, used on deprovision/re-add so stale
// protocol-negotiation data never leaks across an add/delete/re-add cycle.
func (b *BMCState) reset() {
	*b = BMCState{}
}

// Node is one cluster member tracked by the maintenance FSM.
type Node struct {
	mu sync.Mutex

	Hostname string
	UUID     uuid.UUID
	BMCIP    string
	BMCUser  string

	Admin  mtctypes.AdminState
	Oper   mtctypes.OperState
	Avail  mtctypes.AvailStatus
	Action mtctypes.AdminAction

	Task string

	// ConfigAction is the pending out-of-band config request serviced ahead
	// of the dispatch table: "" (none), "install", or
	// "change-password". Cleared by the config handler once applied.
	ConfigAction string

	// ActiveHandler is the sub-FSM currently owning dispatch for this node,
	// used to detect an action change so the owning handler's stage resets.
	ActiveHandler mtctypes.Handler

	// ARDisabled latches once auto-recovery's exponential backoff overflows.
	ARDisabled bool

	// DegradeMask is a bitmask of degrade reasons; zero means not degraded.
	DegradeMask uint32

	// HBMinor tracks heartbeat-minor observations per management interface,
	// indexed by Iface, matching the MNFA controller's usage.
	HBMinor      [ifaceCount]bool
	HBMinorCount [ifaceCount]int

	// GracefulRecovery is the token MNFA sets on AWOL nodes so the enable
	// handler knows the failure reason is network-scoped, not node-scoped.
	GracefulRecovery bool

	// BMC is the per-node out-of-band connection-state cache.
	BMC BMCState
}

// ResetBMCState zeroes the node's BMC capability cache under lock.
func (n *Node) ResetBMCState() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.BMC.reset()
}

// Snapshot returns the dispatch tuple read under the node's own lock.
func (n *Node) Snapshot() mtctypes.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return mtctypes.Snapshot{Action: n.Action, Admin: n.Admin, Oper: n.Oper, Avail: n.Avail}
}

// Lock and Unlock expose the node's mutex directly for handlers that need to
// hold it across several field reads and writes within a single tick step.
func (n *Node) Lock()   { n.mu.Lock() }
func (n *Node) Unlock() { n.mu.Unlock() }

// Arena is the node table: a dense slice for ordered iteration plus two
// lookup maps. All mutation happens from the single maintenance tick
// goroutine; the mutex only protects readers on other goroutines (NATS
// request handlers answering node.info/node.list queries).
type Arena struct {
	mu     sync.RWMutex
	nodes  []*Node
	byHost map[string]int
	byUUID map[uuid.UUID]int
}

// New returns an empty node arena.
func New() *Arena {
	return &Arena{
		byHost: make(map[string]int),
		byUUID: make(map[uuid.UUID]int),
	}
}

// Add inserts a new node record, assigning it a uuid if it doesn't already
// have one. Returns ErrDuplicateHostname if the hostname is already present.
func (a *Arena) Add(n *Node) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byHost[n.Hostname]; exists {
		return ErrDuplicateHostname
	}

	if n.UUID == uuid.Nil {
		n.UUID = uuid.New()
	}

	idx := len(a.nodes)
	a.nodes = append(a.nodes, n)
	a.byHost[n.Hostname] = idx
	a.byUUID[n.UUID] = idx

	return nil
}

// Remove deletes a node by hostname, compacting the slice and re-indexing
// the entry that was moved into the removed slot.
func (a *Arena) Remove(hostname string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, exists := a.byHost[hostname]
	if !exists {
		return ErrNodeNotFound
	}

	removed := a.nodes[idx]
	last := len(a.nodes) - 1

	a.nodes[idx] = a.nodes[last]
	a.nodes = a.nodes[:last]

	delete(a.byHost, removed.Hostname)
	delete(a.byUUID, removed.UUID)

	if idx != last {
		moved := a.nodes[idx]
		a.byHost[moved.Hostname] = idx
		a.byUUID[moved.UUID] = idx
	}

	return nil
}

// Get returns a node by hostname.
func (a *Arena) Get(hostname string) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx, exists := a.byHost[hostname]
	if !exists {
		return nil, false
	}
	return a.nodes[idx], true
}

// GetByUUID returns a node by its uuid.
func (a *Arena) GetByUUID(id uuid.UUID) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx, exists := a.byUUID[id]
	if !exists {
		return nil, false
	}
	return a.nodes[idx], true
}

// Each calls fn for every node in arena order. fn must not call Add or
// Remove on the same arena; it may mutate the node's own fields.
func (a *Arena) Each(fn func(*Node)) {
	a.mu.RLock()
	nodes := make([]*Node, len(a.nodes))
	copy(nodes, a.nodes)
	a.mu.RUnlock()

	for _, n := range nodes {
		fn(n)
	}
}

// Len returns the number of nodes currently tracked.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// Hostnames returns a snapshot of all tracked hostnames in arena order.
func (a *Arena) Hostnames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.nodes))
	for i, n := range a.nodes {
		names[i] = n.Hostname
	}
	return names
}
