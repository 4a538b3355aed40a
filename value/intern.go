// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// InternTable deduplicates frequently-seen strings so that identical text
// shares one StringObj (§4.1: "identity implies equality; inequality never
// implied by non-identity"). It is bounded by an LRU so that a block that
// churns through many distinct strings cannot grow the table without limit;
// eviction never breaks correctness since evicted entries simply stop being
// shared, they don't stop being equal.
//
// Each Bytecode owns one instance, reached through Bytecode.InternString,
// since interning is a property of a specific code object's string pool,
// not a process-wide singleton. Bytecode.AddString's string table and the
// VM's constant loads do not go through this table.
type InternTable struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Value]
}

// NewInternTable creates an intern table holding up to capacity distinct
// strings.
func NewInternTable(capacity int) *InternTable {
	if capacity <= 0 {
		capacity = 4096
	}
	c, err := lru.New[string, Value](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already guarded above.
		panic(err)
	}
	return &InternTable{cache: c}
}

// Intern returns the shared Value for s, constructing and caching one if
// this is the first time s has been seen. The returned Value's refcount is
// saturated (§3 invariant (c)): an interned string is retained by the table
// forever, so per-holder retain/release bookkeeping would be meaningless.
func (t *InternTable) Intern(s string) Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache.Get(s); ok {
		return v
	}
	v := NewString(s)
	v.obj.(*StringObj).saturate()
	t.cache.Add(s, v)
	return v
}
