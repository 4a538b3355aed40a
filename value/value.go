// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"errors"
	"fmt"
	"math"
)

// ---- Error sentinels, following the teacher's vm.go convention -----------

var (
	// ErrType is returned when an operation receives operand Kinds it does
	// not support (§4.1 "type errors elsewhere").
	ErrType = errors.New("value: type error")
	// ErrDivByZero is returned by arithmetic division/modulo on a zero
	// divisor, for both int and float operands (spec §9 mandates this for
	// both, resolving the origin's inf/nan-on-float-zero open question).
	ErrDivByZero = errors.New("value: division by zero")
	// ErrImmutable is returned when a mutation targets a container flagged
	// immutable, regardless of its refcount.
	ErrImmutable = errors.New("value: container is immutable")
	// ErrNotComparable is returned by Compare on Kinds with no ordering.
	ErrNotComparable = errors.New("value: not ordered")
)

// Value is the tagged-union runtime value. The zero Value is Nil.
type Value struct {
	kind Kind
	i    int64   // int, bool (0/1), pid, func chunk index
	f    float64 // float
	obj  object  // String/Array/Map/Bytes/Closure/Struct/Enum/Result/Option
}

// Nil is the nil value.
var Nil = Value{kind: KindNil}

// Bool constructs a bool Value.
func Bool(b bool) Value {
	var i int64
	if b {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Int constructs an int Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float constructs a float Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Pid constructs a pid Value. PID 0 is the spec's PID_INVALID.
func Pid(pid uint64) Value { return Value{kind: KindPid, i: int64(pid)} }

// Func constructs a bare function reference (no captured upvalues) pointing
// at function chunk index idx.
func Func(idx uint32) Value { return Value{kind: KindFunc, i: int64(idx)} }

// Kind returns the Value's variant tag.
func (v Value) Kind() Kind { return v.kind }

// ---- type predicates --------------------------------------------------------

func (v Value) IsNil() bool   { return v.kind == KindNil }
func (v Value) IsBool() bool  { return v.kind == KindBool }
func (v Value) IsInt() bool   { return v.kind == KindInt }
func (v Value) IsFloat() bool { return v.kind == KindFloat }
func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}
func (v Value) IsString() bool  { return v.kind == KindString }
func (v Value) IsArray() bool   { return v.kind == KindArray }
func (v Value) IsMap() bool     { return v.kind == KindMap }
func (v Value) IsPid() bool     { return v.kind == KindPid }
func (v Value) IsBytes() bool   { return v.kind == KindBytes }
func (v Value) IsClosure() bool { return v.kind == KindClosure }
func (v Value) IsResult() bool  { return v.kind == KindResult }
func (v Value) IsOption() bool  { return v.kind == KindOption }
func (v Value) IsStruct() bool  { return v.kind == KindStruct }
func (v Value) IsEnum() bool    { return v.kind == KindEnum }

// Truthy implements the guest language's notion of truthiness: nil and
// false are false, everything else (including int 0 and 0-length
// containers) is true. Used by JUMP_IF/JUMP_UNLESS.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.i != 0
	default:
		return true
	}
}

// AsBool returns the boolean payload; only meaningful if IsBool.
func (v Value) AsBool() bool { return v.i != 0 }

// AsInt returns the int payload; only meaningful if IsInt.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload; only meaningful if IsFloat.
func (v Value) AsFloat() float64 { return v.f }

// AsPid returns the pid payload; only meaningful if IsPid.
func (v Value) AsPid() uint64 { return uint64(v.i) }

// AsFuncIndex returns the function chunk index; only meaningful if Kind is
// Func or Closure.
func (v Value) AsFuncIndex() uint32 {
	if v.kind == KindClosure {
		return v.obj.(*ClosureObj).FuncIndex
	}
	return uint32(v.i)
}

// Retain bumps the refcount of a container Value; a no-op for scalars.
func (v Value) Retain() {
	if v.obj != nil {
		v.obj.retain()
	}
}

// Release drops the refcount of a container Value, releasing children when
// it reaches zero; a no-op for scalars.
func (v Value) Release() {
	if v.obj == nil {
		return
	}
	if v.obj.release() == 0 {
		releaseChildren(v.obj)
	}
}

// releaseChildren recursively releases any Values nested inside a container
// once its own refcount has dropped to zero.
func releaseChildren(o object) {
	switch c := o.(type) {
	case *ArrayObj:
		for _, e := range c.Elems {
			e.Release()
		}
	case *MapObj:
		for _, e := range c.Entries {
			e.Release()
		}
	case *ClosureObj:
		for _, u := range c.Upvalues {
			u.Release()
		}
	case *StructObj:
		for _, f := range c.Fields {
			f.Release()
		}
	case *EnumObj:
		if c.Payload != nil {
			c.Payload.Release()
		}
	case *ResultObj:
		c.Inner.Release()
	case *OptionObj:
		if c.Some {
			c.Inner.Release()
		}
	}
}

// MarkShared flags a container Value immutable and takes one extra reference,
// the transformation required before handing a Value to another block's
// mailbox without a deep copy (§4.1 COW contract, §5 Memory: "values
// crossing a mailbox boundary are either deep-copied or COW-shared with an
// immutable flag").
func (v Value) MarkShared() {
	if v.obj != nil {
		v.obj.markImmutable()
		v.obj.retain()
	}
}

// RefCount exposes the container's refcount for tests and diagnostics; 0 for
// scalars.
func (v Value) RefCount() int32 {
	if v.obj == nil {
		return 0
	}
	switch c := v.obj.(type) {
	case *ArrayObj:
		return c.refcount.count()
	case *MapObj:
		return c.refcount.count()
	case *StringObj:
		return c.refcount.count()
	case *BytesObj:
		return c.refcount.count()
	case *ClosureObj:
		return c.refcount.count()
	case *StructObj:
		return c.refcount.count()
	case *EnumObj:
		return c.refcount.count()
	case *ResultObj:
		return c.refcount.count()
	case *OptionObj:
		return c.refcount.count()
	}
	return 0
}

// ---- equality, hashing, ordering -------------------------------------------

// Equal implements structural equality, with numeric promotion between int
// and float (§4.1 "Equality distinguishes ints and floats by value with
// promotion").
func Equal(a, b Value) bool {
	if a.kind == KindInt && b.kind == KindFloat {
		return float64(a.i) == b.f
	}
	if a.kind == KindFloat && b.kind == KindInt {
		return a.f == float64(b.i)
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool, KindInt, KindPid, KindFunc:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	default:
		if a.obj == nil || b.obj == nil {
			return a.obj == b.obj
		}
		if a.obj == b.obj {
			return true
		}
		return a.obj.deepEqual(b.obj)
	}
}

// Hash returns a stable hash such that Equal(a,b) implies Hash(a)==Hash(b).
func Hash(v Value) uint64 {
	const (
		offset = 1469598103934665603
		prime  = 1099511628211
	)
	mix := func(h uint64, x uint64) uint64 {
		h ^= x
		h *= prime
		return h
	}
	switch v.kind {
	case KindNil:
		return mix(offset, 0)
	case KindBool, KindPid, KindFunc:
		return mix(offset, uint64(v.i))
	case KindInt:
		return mix(offset, uint64(v.i))
	case KindFloat:
		// An integral float must hash identically to the equal int, since
		// Equal promotes across the two.
		if v.f == math.Trunc(v.f) && !math.IsInf(v.f, 0) {
			return mix(offset, uint64(int64(v.f)))
		}
		return mix(offset, math.Float64bits(v.f))
	case KindString:
		return v.obj.(*StringObj).hash
	case KindBytes:
		h := uint64(offset)
		for _, b := range v.obj.(*BytesObj).Data {
			h = mix(h, uint64(b))
		}
		return h
	case KindArray:
		h := uint64(offset)
		for _, e := range v.obj.(*ArrayObj).Elems {
			h = mix(h, Hash(e))
		}
		return h
	case KindMap:
		// Order-independent: XOR per-entry hashes.
		var h uint64
		for k, e := range v.obj.(*MapObj).Entries {
			var kh uint64 = offset
			for _, c := range k {
				kh = mix(kh, uint64(c))
			}
			h ^= mix(kh, Hash(e))
		}
		return h
	default:
		// Structs/enums/closures/results/options compare structurally in
		// Equal, so they hash by Kind alone: coarse, but two equal values
		// always share it.
		return mix(offset, uint64(v.kind))
	}
}

// Compare orders two Values per §4.1: numeric by value (with promotion),
// string lexicographically, otherwise ErrNotComparable.
func Compare(a, b Value) (int, error) {
	if a.IsNumber() && b.IsNumber() {
		af, bf := numAsFloat(a), numAsFloat(b)
		if a.kind == KindInt && b.kind == KindInt {
			switch {
			case a.i < b.i:
				return -1, nil
			case a.i > b.i:
				return 1, nil
			default:
				return 0, nil
			}
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.kind == KindString && b.kind == KindString {
		as, bs := a.obj.(*StringObj).Data, b.obj.(*StringObj).Data
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("%w: %s vs %s", ErrNotComparable, a.kind, b.kind)
}

func numAsFloat(v Value) float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// ---- arithmetic -------------------------------------------------------------

// Add implements ADD: int+int stays int (wrapping), any float operand
// promotes, string+string concatenates into a new string (§4.1).
func Add(a, b Value) (Value, error) {
	if a.kind == KindString && b.kind == KindString {
		return NewString(a.obj.(*StringObj).Data + b.obj.(*StringObj).Data), nil
	}
	if a.kind == KindInt && b.kind == KindInt {
		return Int(a.i + b.i), nil
	}
	if a.IsNumber() && b.IsNumber() {
		return Float(numAsFloat(a) + numAsFloat(b)), nil
	}
	return Nil, fmt.Errorf("%w: %s + %s", ErrType, a.kind, b.kind)
}

func arith(a, b Value, iop func(x, y int64) int64, fop func(x, y float64) float64) (Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return Nil, fmt.Errorf("%w: expected numbers, got %s and %s", ErrType, a.kind, b.kind)
	}
	if a.kind == KindInt && b.kind == KindInt {
		return Int(iop(a.i, b.i)), nil
	}
	return Float(fop(numAsFloat(a), numAsFloat(b))), nil
}

func Sub(a, b Value) (Value, error) {
	return arith(a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
}

func Mul(a, b Value) (Value, error) {
	return arith(a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y })
}

// Div implements division; zero divisor is always a runtime error, for both
// int and float operands (spec §9 resolves the origin's inf/nan ambiguity
// in favor of a hard error in both cases).
func Div(a, b Value) (Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return Nil, fmt.Errorf("%w: expected numbers, got %s and %s", ErrType, a.kind, b.kind)
	}
	if a.kind == KindInt && b.kind == KindInt {
		if b.i == 0 {
			return Nil, ErrDivByZero
		}
		return Int(a.i / b.i), nil
	}
	bf := numAsFloat(b)
	if bf == 0 {
		return Nil, ErrDivByZero
	}
	return Float(numAsFloat(a) / bf), nil
}

// Mod implements remainder; same zero-divisor policy as Div.
func Mod(a, b Value) (Value, error) {
	if a.kind == KindInt && b.kind == KindInt {
		if b.i == 0 {
			return Nil, ErrDivByZero
		}
		return Int(a.i % b.i), nil
	}
	if a.IsNumber() && b.IsNumber() {
		bf := numAsFloat(b)
		if bf == 0 {
			return Nil, ErrDivByZero
		}
		return Float(math.Mod(numAsFloat(a), bf)), nil
	}
	return Nil, fmt.Errorf("%w: expected numbers, got %s and %s", ErrType, a.kind, b.kind)
}

// Neg implements unary negation.
func Neg(a Value) (Value, error) {
	switch a.kind {
	case KindInt:
		return Int(-a.i), nil
	case KindFloat:
		return Float(-a.f), nil
	default:
		return Nil, fmt.Errorf("%w: cannot negate %s", ErrType, a.kind)
	}
}

// DeepCopy produces an independent Value with no shared container state,
// suitable for crossing a mailbox boundary without relying on COW+immutable
// sharing.
func DeepCopy(v Value) Value {
	if v.obj == nil {
		return v
	}
	switch c := v.obj.(type) {
	case *StringObj:
		// Strings are already immutable; sharing the pointer is safe and
		// cheaper than copying the bytes, but we still bump the refcount so
		// the copy has independent lifetime accounting.
		v.Retain()
		return v
	case *BytesObj:
		cp := &BytesObj{refcount: newRefcount(), Data: append([]byte(nil), c.Data...)}
		return Value{kind: KindBytes, obj: cp}
	case *ArrayObj:
		elems := make([]Value, len(c.Elems))
		for i, e := range c.Elems {
			elems[i] = DeepCopy(e)
		}
		return Value{kind: KindArray, obj: &ArrayObj{refcount: newRefcount(), Elems: elems}}
	case *MapObj:
		entries := make(map[string]Value, len(c.Entries))
		for k, e := range c.Entries {
			entries[k] = DeepCopy(e)
		}
		return Value{kind: KindMap, obj: &MapObj{refcount: newRefcount(), Entries: entries}}
	case *ClosureObj:
		ups := make([]Value, len(c.Upvalues))
		for i, u := range c.Upvalues {
			ups[i] = DeepCopy(u)
		}
		return Value{kind: KindClosure, obj: &ClosureObj{refcount: newRefcount(), FuncIndex: c.FuncIndex, Upvalues: ups}}
	case *StructObj:
		fields := make(map[string]Value, len(c.Fields))
		for k, f := range c.Fields {
			fields[k] = DeepCopy(f)
		}
		return Value{kind: KindStruct, obj: &StructObj{refcount: newRefcount(), TypeName: c.TypeName, Fields: fields}}
	case *EnumObj:
		var payload *Value
		if c.Payload != nil {
			p := DeepCopy(*c.Payload)
			payload = &p
		}
		return Value{kind: KindEnum, obj: &EnumObj{refcount: newRefcount(), TypeName: c.TypeName, Variant: c.Variant, Payload: payload}}
	case *ResultObj:
		return Value{kind: KindResult, obj: &ResultObj{refcount: newRefcount(), Ok: c.Ok, Inner: DeepCopy(c.Inner)}}
	case *OptionObj:
		return Value{kind: KindOption, obj: &OptionObj{refcount: newRefcount(), Some: c.Some, Inner: DeepCopy(c.Inner)}}
	default:
		return v
	}
}
