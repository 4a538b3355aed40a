// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

// EnsureUnique implements the COW contract (§4.1): before a mutation on a
// container Value, the caller must hold a Value whose container has
// refcount == 1. If the container is immutable, mutation is always
// rejected regardless of refcount. Otherwise, if the container is shared
// (refcount > 1), EnsureUnique releases the caller's reference to the
// shared container and returns a fresh clone with refcount 1 that the
// caller now exclusively owns; if already unique, the same Value is
// returned unchanged.
func EnsureUnique(v Value) (Value, error) {
	if v.obj == nil {
		return v, nil
	}
	if v.obj.isImmutable() {
		return Value{}, ErrImmutable
	}
	if !v.obj.shared() {
		return v, nil
	}
	clone := v.obj.clone()
	v.Release()
	return Value{kind: v.kind, obj: clone}, nil
}
