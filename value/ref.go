// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import "sync/atomic"

// refSticky is the saturation sentinel: once a refcount reaches it, it is
// never decremented again (§3 invariant (c)). It is used for values that
// have been shared widely enough (e.g. interned strings, or bytecode
// constants referenced from many blocks) that precise counting no longer
// matters and would only cost contention.
const refSticky = int32(1<<31 - 1)

// refcount is embedded by every heap container object. All operations are
// atomic: containers cross block boundaries and the VM dispatch loop never
// takes a lock around a refcount bump.
type refcount struct {
	n        int32
	immut    int32 // 1 once flagged immutable; never mutated back to 0
}

// retain increments the refcount unless it has saturated.
func (r *refcount) retain() {
	for {
		cur := atomic.LoadInt32(&r.n)
		if cur >= refSticky {
			return
		}
		if atomic.CompareAndSwapInt32(&r.n, cur, cur+1) {
			return
		}
	}
}

// release decrements the refcount unless it has saturated, returning the
// resulting count. Saturated refcounts report refSticky forever.
func (r *refcount) release() int32 {
	for {
		cur := atomic.LoadInt32(&r.n)
		if cur >= refSticky {
			return refSticky
		}
		next := cur - 1
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt32(&r.n, cur, next) {
			return next
		}
	}
}

// count returns the current refcount.
func (r *refcount) count() int32 { return atomic.LoadInt32(&r.n) }

// saturate sets the refcount to the sticky sentinel, e.g. when a string is
// interned or a bytecode constant is shared across an unbounded number of
// blocks and exact counting stops being useful.
func (r *refcount) saturate() { atomic.StoreInt32(&r.n, refSticky) }

// markImmutable flags the container as immutable. Immutable containers may
// never be mutated regardless of refcount (§3 invariant (b), §4.1 COW
// contract: "A container flagged immutable cannot be mutated under any
// refcount").
func (r *refcount) markImmutable() { atomic.StoreInt32(&r.immut, 1) }

// isImmutable reports the immutability flag.
func (r *refcount) isImmutable() bool { return atomic.LoadInt32(&r.immut) != 0 }

// shared reports whether more than one owner currently references this
// container, i.e. whether a mutation must first clone (COW).
func (r *refcount) shared() bool { return r.count() > 1 }

func newRefcount() refcount { return refcount{n: 1} }
