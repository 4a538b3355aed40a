// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

// ClosureObj is a function reference plus its captured upvalues, in the
// order the compiler recorded them (§3: "An ordered list of captured values
// (upvalues)").
type ClosureObj struct {
	refcount
	FuncIndex uint32
	Upvalues  []Value
}

// NewClosure constructs a fresh Closure Value over funcIndex capturing ups
// (taken by reference; the closure becomes their sole owner).
func NewClosure(funcIndex uint32, ups []Value) Value {
	return Value{kind: KindClosure, obj: &ClosureObj{refcount: newRefcount(), FuncIndex: funcIndex, Upvalues: ups}}
}

// AsClosure returns the backing object; only meaningful if IsClosure.
func (v Value) AsClosure() *ClosureObj { return v.obj.(*ClosureObj) }

func (c *ClosureObj) clone() object {
	ups := make([]Value, len(c.Upvalues))
	for i, u := range c.Upvalues {
		ups[i] = u
		u.Retain()
	}
	return &ClosureObj{refcount: newRefcount(), FuncIndex: c.FuncIndex, Upvalues: ups}
}
func (c *ClosureObj) deepEqual(other object) bool {
	o, ok := other.(*ClosureObj)
	if !ok || c.FuncIndex != o.FuncIndex || len(c.Upvalues) != len(o.Upvalues) {
		return false
	}
	for i := range c.Upvalues {
		if !Equal(c.Upvalues[i], o.Upvalues[i]) {
			return false
		}
	}
	return true
}
