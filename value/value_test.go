// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEqualPromotesIntFloat(t *testing.T) {
	require.True(t, Equal(Int(3), Float(3.0)))
	require.True(t, Equal(Float(3.0), Int(3)))
	require.False(t, Equal(Int(3), Float(3.5)))
}

func TestAddStringConcatenatesNewString(t *testing.T) {
	a := NewString("foo")
	b := NewString("bar")
	sum, err := Add(a, b)
	require.NoError(t, err)
	require.Equal(t, "foobar", sum.AsString())
	// a new string object, not a or b's.
	require.NotSame(t, a.obj, sum.obj)
}

func TestAddTypeMismatchErrors(t *testing.T) {
	_, err := Add(Int(1), Bool(true))
	require.ErrorIs(t, err, ErrType)
}

func TestDivByZeroErrorsForIntAndFloat(t *testing.T) {
	_, err := Div(Int(1), Int(0))
	require.ErrorIs(t, err, ErrDivByZero)

	_, err = Div(Float(1), Float(0))
	require.ErrorIs(t, err, ErrDivByZero)
}

func TestArrayCOWClonesOnSharedMutation(t *testing.T) {
	arr := NewArray([]Value{Int(1), Int(2), Int(3)})
	alias := arr
	alias.Retain() // simulate a second owner, e.g. another register holding it

	mutable, err := EnsureUnique(arr)
	require.NoError(t, err)
	require.NotSame(t, arr.obj, mutable.obj, "shared array must clone before mutation")

	// Mutating the clone must not affect the original the alias still sees.
	mutable.AsArray().Elems[0] = Int(99)
	require.Equal(t, int64(1), alias.AsArray().Elems[0].AsInt())
}

func TestArrayEnsureUniqueNoopWhenNotShared(t *testing.T) {
	arr := NewArray([]Value{Int(1)})
	same, err := EnsureUnique(arr)
	require.NoError(t, err)
	require.Same(t, arr.obj, same.obj)
}

func TestImmutableContainerRejectsMutation(t *testing.T) {
	m := NewMap()
	m.MarkShared()
	_, err := EnsureUnique(m)
	require.ErrorIs(t, err, ErrImmutable)
}

func TestRefcountSaturatesAndNeverDecrements(t *testing.T) {
	v := NewArray(nil)
	v.obj.(*ArrayObj).saturate()
	for i := 0; i < 5; i++ {
		v.Release()
	}
	require.EqualValues(t, refSticky, v.RefCount())
}

func TestInternTableDeduplicates(t *testing.T) {
	tbl := NewInternTable(16)
	a := tbl.Intern("hello")
	b := tbl.Intern("hello")
	require.Same(t, a.obj, b.obj)
}

func TestDeepCopyArrayIsIndependent(t *testing.T) {
	orig := NewArray([]Value{NewString("x"), Int(1)})
	cp := DeepCopy(orig)
	require.NotSame(t, orig.obj, cp.obj)
	cp.AsArray().Elems[1] = Int(42)
	require.Equal(t, int64(1), orig.AsArray().Elems[1].AsInt())
	require.True(t, cmp.Equal(orig.AsArray().Elems[0].AsString(), "x"))
}

func TestCompareOrdersNumbersAndStrings(t *testing.T) {
	c, err := Compare(Int(1), Int(2))
	require.NoError(t, err)
	require.Equal(t, -1, c)

	c, err = Compare(NewString("a"), NewString("b"))
	require.NoError(t, err)
	require.Equal(t, -1, c)

	_, err = Compare(Bool(true), Bool(false))
	require.ErrorIs(t, err, ErrNotComparable)
}

func TestMapRequiresStringKeysByAPIShape(t *testing.T) {
	m := NewMap().AsMap()
	m.Entries["k"] = Int(1)
	require.Equal(t, int64(1), m.Entries["k"].AsInt())
}

func TestEnumPayloadRoundTrip(t *testing.T) {
	p := Int(7)
	e := NewEnum("Option", "Some", &p)
	require.Equal(t, "Some", e.AsEnum().Variant)
	require.Equal(t, int64(7), e.AsEnum().Payload.AsInt())
}

func TestResultUnwrapOr(t *testing.T) {
	e := Err(NewString("boom"))
	require.Equal(t, int64(0), e.UnwrapOr(Int(0)).AsInt())

	ok := Ok(Int(5))
	require.Equal(t, int64(5), ok.UnwrapOr(Int(0)).AsInt())
}
