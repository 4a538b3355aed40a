// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

// object is implemented by every heap-allocated container variant (String,
// Array, Map, Bytes, Closure, Struct, Enum, Result, Option). Value.obj holds
// one of these; Kind says which concrete type to expect.
type object interface {
	retain()
	release() int32
	shared() bool
	isImmutable() bool
	markImmutable()
	// clone returns a deep (for contained Values, shallow: child Values are
	// copied by value, which for container children just bumps their own
	// refcount) independent copy with a fresh refcount of 1, used by the
	// COW contract before a mutation on a shared container.
	clone() object
	// deepEqual compares structurally against another object of the same
	// concrete type (callers have already checked Kind equality).
	deepEqual(other object) bool
}
