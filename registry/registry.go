// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package registry implements the scheduler's three lookup tables: the
// sharded PID->Block registry, the named-process table, and the
// process-group registry (§4.7, §3 "Registry"/"Named-process
// table"/"Process-group registry").
package registry

import (
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/internal/lock"
)

// numShards is the fixed bucket count spec §3 suggests ("e.g. 64") to keep
// any one lock's hold time short under concurrent spawn/lookup traffic.
const numShards = 64

type shard struct {
	mu    lock.RWMutex
	table map[uint64]*block.Block
}

// Registry is the logical map PID -> Block, physically sharded by PID to
// reduce lock contention across workers (§4.7).
type Registry struct {
	shards [numShards]*shard
	nextPID uint64 // atomic; PID 0 is reserved as "invalid" (§3 "Value")
}

// New returns an empty Registry. The PID sequence starts at 1 so PID 0
// stays reserved for "invalid" (§3 "a PID is an opaque 64-bit identifier,
// zero meaning invalid").
func New() *Registry {
	r := &Registry{nextPID: 0}
	for i := range r.shards {
		r.shards[i] = &shard{table: make(map[uint64]*block.Block)}
	}
	return r
}

func (r *Registry) shardFor(pid uint64) *shard {
	return r.shards[pid%numShards]
}

// NextPID issues the next monotonically increasing PID (§3 "A sequence
// counter issues monotonically increasing PIDs").
func (r *Registry) NextPID() uint64 {
	return atomic.AddUint64(&r.nextPID, 1)
}

// Insert registers b under its own PID.
func (r *Registry) Insert(b *block.Block) {
	s := r.shardFor(b.PID())
	s.mu.Lock()
	s.table[b.PID()] = b
	s.mu.Unlock()
}

// Remove deletes pid's entry, if any.
func (r *Registry) Remove(pid uint64) {
	s := r.shardFor(pid)
	s.mu.Lock()
	delete(s.table, pid)
	s.mu.Unlock()
}

// Get returns pid's Block, or nil, false if it is not registered.
func (r *Registry) Get(pid uint64) (*block.Block, bool) {
	s := r.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.table[pid]
	return b, ok
}

// Count returns the total number of registered blocks across all shards.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.table)
		s.mu.RUnlock()
	}
	return n
}

// Each invokes fn for every registered Block; fn must not call back into
// Insert/Remove on the same Registry while iterating its own shard, since
// the shard lock is held for the duration of that shard's pass.
func (r *Registry) Each(fn func(*block.Block)) {
	for _, s := range r.shards {
		s.mu.RLock()
		for _, b := range s.table {
			fn(b)
		}
		s.mu.RUnlock()
	}
}

// ---- Named-process table (§3 "Named-process table") -----------------------

// ErrNameTaken is returned by NamedTable.Register when name already maps to
// a different PID.
var ErrNameTaken = namedTableError("registry: name already registered")

type namedTableError string

func (e namedTableError) Error() string { return string(e) }

// NamedTable is the map string -> PID, rejecting duplicate registrations.
type NamedTable struct {
	mu    lock.RWMutex
	byName map[string]uint64
}

func NewNamedTable() *NamedTable {
	return &NamedTable{byName: make(map[string]uint64)}
}

// Register binds name to pid, failing with ErrNameTaken if name is already
// bound to a different PID (§3 "Inserting a duplicate name fails").
func (t *NamedTable) Register(name string, pid uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byName[name]; ok && existing != pid {
		return ErrNameTaken
	}
	t.byName[name] = pid
	return nil
}

// Unregister removes name's binding, if any.
func (t *NamedTable) Unregister(name string) {
	t.mu.Lock()
	delete(t.byName, name)
	t.mu.Unlock()
}

// Whereis resolves name to a PID.
func (t *NamedTable) Whereis(name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pid, ok := t.byName[name]
	return pid, ok
}

// UnregisterPID drops every name currently bound to pid, used when a named
// block dies.
func (t *NamedTable) UnregisterPID(pid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, p := range t.byName {
		if p == pid {
			delete(t.byName, name)
		}
	}
}

// ---- Process-group registry (§3 "Process-group registry") -----------------

// GroupRegistry is the map string -> set of PIDs, with each group's
// membership set locked independently so unrelated groups never contend.
// Membership is unordered: Members returns PIDs in no defined order.
type GroupRegistry struct {
	mu     lock.RWMutex
	groups map[string]*groupEntry
}

type groupEntry struct {
	mu      lock.RWMutex
	members mapset.Set[uint64]
}

func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{groups: make(map[string]*groupEntry)}
}

func (g *GroupRegistry) entry(name string) *groupEntry {
	g.mu.RLock()
	e, ok := g.groups[name]
	g.mu.RUnlock()
	if ok {
		return e
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok = g.groups[name]; ok {
		return e
	}
	e = &groupEntry{members: mapset.NewSet[uint64]()}
	g.groups[name] = e
	return e
}

// Join adds pid to group's membership, creating the group if needed.
func (g *GroupRegistry) Join(group string, pid uint64) {
	e := g.entry(group)
	e.mu.Lock()
	e.members.Add(pid)
	e.mu.Unlock()
}

// Leave removes pid from group's membership.
func (g *GroupRegistry) Leave(group string, pid uint64) {
	g.mu.RLock()
	e, ok := g.groups[group]
	g.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.members.Remove(pid)
	e.mu.Unlock()
}

// Members returns a snapshot of group's PIDs, or nil if the group does not
// exist.
func (g *GroupRegistry) Members(group string) []uint64 {
	g.mu.RLock()
	e, ok := g.groups[group]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.members.ToSlice()
}

// LeaveAll removes pid from every group, used when a block dies.
func (g *GroupRegistry) LeaveAll(pid uint64) {
	g.mu.RLock()
	entries := make([]*groupEntry, 0, len(g.groups))
	for _, e := range g.groups {
		entries = append(entries, e)
	}
	g.mu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		e.members.Remove(pid)
		e.mu.Unlock()
	}
}
