// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package module implements ModuleRegistry: hot code upgrade for a named
// group of blocks sharing one Bytecode (§4.10, §3 "Module registry").
package module

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
)

// ErrUnknownModule is returned by TriggerUpgrade/Rollback for a name never
// Loaded.
var ErrUnknownModule = errors.New("module: unknown module")

// ErrNoPreviousVersion is returned by Rollback when a module has never been
// upgraded.
var ErrNoPreviousVersion = errors.New("module: no previous version to roll back to")

// Version bundles one loaded revision of a module (§3 "A ModuleVersion
// bundles a name, a version counter, a Bytecode pointer, a load timestamp,
// a refcount, and an optional migration-function index"). LoadedAt is the
// Registry's own logical clock, bumped on every Load and TriggerUpgrade,
// rather than a wall-clock timestamp, so it does not depend on real time.
type Version struct {
	Name           string
	Counter        uint64
	Code           *bytecode.Bytecode
	LoadedAt       uint64
	MigrationFnIdx int32 // -1 if none
}

type entry struct {
	mu       sync.Mutex
	current  Version
	previous *Version
	blocks   mapset.Set[uint64]
}

// Registry is the map name -> (current version, previous version,
// block-association list) (§3 "Module registry").
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*entry
	clock   uint64 // atomic-free: Registry methods that touch clock hold mu
}

func New() *Registry {
	return &Registry{modules: make(map[string]*entry)}
}

// Load registers code as name's first version (counter 1), or does nothing
// and returns the existing entry's Version if name is already loaded — use
// TriggerUpgrade to install a new version of an existing module.
func (r *Registry) Load(name string, code *bytecode.Bytecode, migrationFnIdx int32) Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.modules[name]; ok {
		e.mu.Lock()
		v := e.current
		e.mu.Unlock()
		return v
	}
	r.clock++
	v := Version{Name: name, Counter: 1, Code: code, LoadedAt: r.clock, MigrationFnIdx: migrationFnIdx}
	code.Retain()
	r.modules[name] = &entry{current: v, blocks: mapset.NewSet[uint64]()}
	return v
}

// RegisterBlock associates pid with name, so a future TriggerUpgrade knows
// to flag it pending (§3 "block-association list").
func (r *Registry) RegisterBlock(name string, pid uint64) error {
	r.mu.RLock()
	e, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownModule
	}
	e.mu.Lock()
	e.blocks.Add(pid)
	e.mu.Unlock()
	return nil
}

// UnregisterBlock drops pid's association with name, called when a block
// registered against a module dies.
func (r *Registry) UnregisterBlock(name string, pid uint64) {
	r.mu.RLock()
	e, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.blocks.Remove(pid)
	e.mu.Unlock()
}

// CurrentVersion returns name's current Version.
func (r *Registry) CurrentVersion(name string) (Version, bool) {
	r.mu.RLock()
	e, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return Version{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, true
}

// TriggerUpgrade installs newCode as name's new current version (moving the
// old current to previous) and flags every associated, still-registered
// block's pending-upgrade bit (§4.10). The flag stays set until
// ApplyUpgrade is called for that block; dispatch does not consume it.
func (r *Registry) TriggerUpgrade(name string, newCode *bytecode.Bytecode, migrationFnIdx int32, lookup func(pid uint64) (*block.Block, bool)) error {
	r.mu.Lock()
	e, ok := r.modules[name]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownModule
	}

	e.mu.Lock()
	r.mu.Lock()
	r.clock++
	clock := r.clock
	r.mu.Unlock()
	prev := e.current
	newCode.Retain()
	e.previous = &prev
	e.current = Version{Name: name, Counter: prev.Counter + 1, Code: newCode, LoadedAt: clock, MigrationFnIdx: migrationFnIdx}
	members := e.blocks.ToSlice()
	e.mu.Unlock()

	for _, pid := range members {
		if b, ok := lookup(pid); ok {
			b.SetPendingUpgrade(true)
		}
	}
	return nil
}

// ApplyUpgrade swaps the block's VM onto name's current Bytecode and clears
// its PendingUpgrade flag. It runs whenever its caller invokes it; nothing
// in the runtime calls it from a safe point. The version's MigrationFnIdx
// is recorded but no migration function is run.
func (r *Registry) ApplyUpgrade(name string, b *block.Block) error {
	v, ok := r.CurrentVersion(name)
	if !ok {
		return ErrUnknownModule
	}
	b.VM().SwapBytecode(v.Code)
	b.SetPendingUpgrade(false)
	return nil
}

// Rollback restores name's previous version as current, demoting the
// (bad) current version, and, like TriggerUpgrade, flags every associated
// block that lookup still finds as pending an upgrade.
func (r *Registry) Rollback(name string, lookup func(pid uint64) (*block.Block, bool)) error {
	r.mu.RLock()
	e, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownModule
	}
	e.mu.Lock()
	if e.previous == nil {
		e.mu.Unlock()
		return ErrNoPreviousVersion
	}
	rolledBack := e.current
	e.current = *e.previous
	e.previous = &rolledBack
	members := e.blocks.ToSlice()
	e.mu.Unlock()

	for _, pid := range members {
		if b, ok := lookup(pid); ok {
			b.SetPendingUpgrade(true)
		}
	}
	return nil
}
