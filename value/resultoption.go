// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"errors"
	"fmt"
)

// ErrWrongVariant is returned by Unwrap when the Result/Option holds the
// "other" variant (Err for a Result, None for an Option) and no default was
// supplied via an _OR opcode (§4.6).
var ErrWrongVariant = errors.New("value: unwrap on wrong variant")

// ResultObj backs the Result{Ok(v)|Err(e)} variant (§3).
type ResultObj struct {
	refcount
	Ok    bool
	Inner Value
}

// Ok constructs a Result in the Ok state wrapping v.
func Ok(v Value) Value {
	return Value{kind: KindResult, obj: &ResultObj{refcount: newRefcount(), Ok: true, Inner: v}}
}

// Err constructs a Result in the Err state wrapping e.
func Err(e Value) Value {
	return Value{kind: KindResult, obj: &ResultObj{refcount: newRefcount(), Ok: false, Inner: e}}
}

// IsOk reports whether a Result Value holds Ok; only meaningful if IsResult.
func (v Value) IsOk() bool { return v.obj.(*ResultObj).Ok }

// Unwrap returns the inner value of a Result (Ok) or Option (Some), erroring
// with ErrWrongVariant if the Value holds the other side.
func (v Value) Unwrap() (Value, error) {
	switch c := v.obj.(type) {
	case *ResultObj:
		if !c.Ok {
			return Nil, fmt.Errorf("%w: Err(%v)", ErrWrongVariant, c.Inner)
		}
		return c.Inner, nil
	case *OptionObj:
		if !c.Some {
			return Nil, fmt.Errorf("%w: None", ErrWrongVariant)
		}
		return c.Inner, nil
	default:
		return Nil, fmt.Errorf("%w: not a Result or Option", ErrType)
	}
}

// UnwrapOr returns the inner value, or def if the Result/Option holds the
// other variant (the _OR opcode family, §4.6).
func (v Value) UnwrapOr(def Value) Value {
	if r, err := v.Unwrap(); err == nil {
		return r
	}
	return def
}

func (r *ResultObj) clone() object {
	r.Inner.Retain()
	return &ResultObj{refcount: newRefcount(), Ok: r.Ok, Inner: r.Inner}
}
func (r *ResultObj) deepEqual(other object) bool {
	o, ok := other.(*ResultObj)
	return ok && r.Ok == o.Ok && Equal(r.Inner, o.Inner)
}

// OptionObj backs the Option{Some(v)|None} variant (§3).
type OptionObj struct {
	refcount
	Some  bool
	Inner Value
}

// Some constructs an Option in the Some state wrapping v.
func Some(v Value) Value {
	return Value{kind: KindOption, obj: &OptionObj{refcount: newRefcount(), Some: true, Inner: v}}
}

// None constructs an Option in the None state.
func None() Value {
	return Value{kind: KindOption, obj: &OptionObj{refcount: newRefcount(), Some: false}}
}

// IsSome reports whether an Option Value holds Some; only meaningful if
// IsOption.
func (v Value) IsSome() bool { return v.obj.(*OptionObj).Some }

func (o *OptionObj) clone() object {
	if o.Some {
		o.Inner.Retain()
	}
	return &OptionObj{refcount: newRefcount(), Some: o.Some, Inner: o.Inner}
}
func (o *OptionObj) deepEqual(other object) bool {
	p, ok := other.(*OptionObj)
	if !ok || o.Some != p.Some {
		return false
	}
	if !o.Some {
		return true
	}
	return Equal(o.Inner, p.Inner)
}
