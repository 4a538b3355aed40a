// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import "math"

// Slot is the VM's 64-bit interpreter-stack encoding (§3: "a 64-bit encoding
// that packs nil, booleans, 48-bit signed integers, IEEE doubles, PIDs, and
// heap-object pointers into one word"). IEEE doubles are stored verbatim
// (any bit pattern that is not one of our reserved quiet-NaN payloads decodes
// as a float); every other variant is packed into the 51 mantissa bits of a
// quiet NaN.
//
// Go's garbage collector cannot scan an integer register for a hidden
// pointer, so unlike a native NaN-boxing VM this encoding never stores a raw
// heap address. A heap-bearing Value instead gets a slot with a small tag
// plus an index into an Arena: a GC-visible slice of object references owned
// by the VM/Block the slot belongs to. The Arena is the actual root; the
// Slot is just an index into it, safe to keep in an untyped uint64 register
// file.
type Slot uint64

const (
	// quietNaNMask is set on every non-float payload. A real IEEE double
	// that happens to be a NaN is canonicalized to one fixed bit pattern
	// on the way in, so it is never confused with a tagged payload.
	quietNaNMask = 0x7FF8_0000_0000_0000

	tagShift = 48
	tagMask  = 0x7
	payMask  = (uint64(1) << 48) - 1

	tagNil   = 0
	tagFalse = 1
	tagTrue  = 2
	tagInt   = 3
	tagPid   = 4
	tagHeap  = 5
	// tagNaN is a dedicated tag for the canonicalized NaN pattern. A bare
	// quiet NaN's own bits (exponent all-ones, top mantissa bit set) would
	// otherwise land on the same nibble as tag 0, aliasing Nil; giving NaN
	// its own tag keeps every pattern in the quiet-NaN space unambiguous.
	tagNaN = 6

	// kindShift/kindMask locate the Kind nibble stashed above the 32-bit
	// arena index inside a tagHeap Slot's payload.
	kindShift = 40
	kindMask  = 0xF
)

var canonicalNaN = pack(tagNaN, 0)

// Arena is the GC-visible backing store for heap-object Slots. A Slot with
// tagHeap holds an index into an Arena's Objects slice rather than a raw
// pointer, keeping every live heap reference reachable by the garbage
// collector through an ordinary Go slice.
type Arena struct {
	Objects []object
	free    []uint32 // indices released by Release, reused by Put
}

// NewArena constructs an empty Arena.
func NewArena() *Arena {
	return &Arena{}
}

// put records o and returns its arena index, reusing a freed slot if one is
// available.
func (a *Arena) put(o object) uint32 {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.Objects[idx] = o
		return idx
	}
	a.Objects = append(a.Objects, o)
	return uint32(len(a.Objects) - 1)
}

// Release drops the Arena's own reference to the object at idx once the VM
// knows no Slot still names it, allowing the index to be recycled and the
// object itself to become collectible.
func (a *Arena) Release(idx uint32) {
	a.Objects[idx] = nil
	a.free = append(a.free, idx)
}

func pack(tag uint64, payload uint64) Slot {
	return Slot(quietNaNMask | (tag << tagShift) | (payload & payMask))
}

func (s Slot) tag() uint64     { return (uint64(s) >> tagShift) & tagMask }
func (s Slot) payload() uint64 { return uint64(s) & payMask }

// NilSlot is the packed nil value.
var NilSlot = pack(tagNil, 0)

// ToSlot converts a heap Value into its packed stack encoding. Heap-bearing
// Values are recorded into arena and referenced by index; the caller is
// responsible for arranging that the arena outlives every Slot derived from
// it (the owning Block's VM does this by construction, per §3).
func ToSlot(v Value, arena *Arena) Slot {
	switch v.kind {
	case KindNil:
		return NilSlot
	case KindBool:
		if v.i != 0 {
			return pack(tagTrue, 0)
		}
		return pack(tagFalse, 0)
	case KindInt:
		// 48-bit signed payload per §3; values outside that range are
		// promoted to float rather than silently truncated.
		if v.i >= -(1<<47) && v.i < (1<<47) {
			return pack(tagInt, uint64(v.i)&payMask)
		}
		return Slot(math.Float64bits(float64(v.i)))
	case KindFloat:
		if math.IsNaN(v.f) {
			// Canonicalize incoming NaNs so they never alias a tag pattern.
			return canonicalNaN
		}
		return Slot(math.Float64bits(v.f))
	case KindPid:
		return pack(tagPid, uint64(v.i)&payMask)
	default:
		idx := arena.put(v.obj)
		s := pack(tagHeap, uint64(idx))
		// Stash the Kind in payload bits above the 32-bit index range we
		// actually need (arenas never hold 2^32 live objects); keeps
		// FromSlot from needing a type-switch probe into the arena.
		return s | Slot(uint64(v.kind)<<kindShift)
	}
}

// FromSlot reconstructs a Value from a packed stack Slot. For heap-tagged
// slots it looks the referenced object up in arena; the returned Value does
// not itself retain the object; callers that keep it past the Slot's
// lifetime must Retain explicitly.
func FromSlot(s Slot, arena *Arena) Value {
	if uint64(s)&quietNaNMask != quietNaNMask {
		return Float(math.Float64frombits(uint64(s)))
	}
	switch s.tag() {
	case tagNil:
		return Nil
	case tagFalse:
		return Bool(false)
	case tagTrue:
		return Bool(true)
	case tagInt:
		return Int(signExtend48(s.payload()))
	case tagPid:
		return Pid(s.payload())
	case tagNaN:
		return Float(math.NaN())
	case tagHeap:
		kind := Kind((uint64(s) >> kindShift) & kindMask)
		idx := uint32(s.payload() & 0xFFFFFFFF)
		return Value{kind: kind, obj: arena.Objects[idx]}
	default:
		return Float(math.Float64frombits(uint64(s)))
	}
}

func signExtend48(payload uint64) int64 {
	const bit = uint64(1) << 47
	if payload&bit != 0 {
		return int64(payload | ^uint64(0)<<48)
	}
	return int64(payload)
}
