// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// icState is an inline cache's degradation state (§4.3).
type icState uint8

const (
	icUninitialized icState = iota
	icMonomorphic
	icPolymorphic
	icMegamorphic
)

// maxPolymorphicShapes is the number of distinct shapes a polymorphic cache
// tracks before degrading to megamorphic on the next miss.
const maxPolymorphicShapes = 8

// shapeEntry records one observed map "shape" (identity of the key layout)
// and the slot index MAP_GET_IC found for it.
type shapeEntry struct {
	shape uintptr
	slot  int
}

// InlineCache speeds up repeated constant-key map lookups at one call site
// (OP_MAP_GET_IC). It never affects correctness: a miss, or a cache in any
// state, always falls back to probing the map directly (§4.3 "correctness
// never depends on cache state").
//
// uninitialized and monomorphic/polymorphic lookups are a handful of
// comparisons against shapes; once a site has seen more than
// maxPolymorphicShapes distinct map shapes it degrades to megamorphic and
// defers to an LRU of recent shape->slot observations instead of growing the
// shape list without bound.
type InlineCache struct {
	state  icState
	shapes []shapeEntry
	mega   *lru.Cache[uintptr, int]
}

// NewInlineCache returns a fresh, uninitialized cache slot.
func NewInlineCache() *InlineCache {
	return &InlineCache{state: icUninitialized}
}

// Lookup returns the cached slot for shape, if any is recorded.
func (ic *InlineCache) Lookup(shape uintptr) (int, bool) {
	switch ic.state {
	case icUninitialized:
		return 0, false
	case icMegamorphic:
		return ic.mega.Get(shape)
	default: // monomorphic or polymorphic
		for _, e := range ic.shapes {
			if e.shape == shape {
				return e.slot, true
			}
		}
		return 0, false
	}
}

// Update records that shape maps to slot, degrading the cache's state if a
// new, previously-unseen shape pushes it past the polymorphic limit.
func (ic *InlineCache) Update(shape uintptr, slot int) {
	switch ic.state {
	case icUninitialized:
		ic.shapes = []shapeEntry{{shape, slot}}
		ic.state = icMonomorphic
	case icMonomorphic, icPolymorphic:
		for i, e := range ic.shapes {
			if e.shape == shape {
				ic.shapes[i].slot = slot
				return
			}
		}
		if len(ic.shapes) < maxPolymorphicShapes {
			ic.shapes = append(ic.shapes, shapeEntry{shape, slot})
			ic.state = icPolymorphic
			return
		}
		ic.degradeToMegamorphic()
		ic.mega.Add(shape, slot)
	case icMegamorphic:
		ic.mega.Add(shape, slot)
	}
}

func (ic *InlineCache) degradeToMegamorphic() {
	cache, _ := lru.New[uintptr, int](256)
	for _, e := range ic.shapes {
		cache.Add(e.shape, e.slot)
	}
	ic.shapes = nil
	ic.mega = cache
	ic.state = icMegamorphic
}

// State exposes the cache's current degradation state for tests and
// diagnostics.
func (ic *InlineCache) State() string {
	switch ic.state {
	case icUninitialized:
		return "uninitialized"
	case icMonomorphic:
		return "monomorphic"
	case icPolymorphic:
		return "polymorphic"
	case icMegamorphic:
		return "megamorphic"
	default:
		return "unknown"
	}
}
