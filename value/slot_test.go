// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotRoundTripsScalars(t *testing.T) {
	arena := NewArena()
	cases := []Value{
		Nil,
		Bool(true),
		Bool(false),
		Int(0),
		Int(-1),
		Int(1<<40 + 7),
		Int(-(1 << 40)),
		Pid(42),
		Float(3.25),
		Float(-0.0),
		Float(math.Inf(1)),
		Float(math.Inf(-1)),
	}
	for _, v := range cases {
		s := ToSlot(v, arena)
		got := FromSlot(s, arena)
		require.True(t, Equal(v, got), "round trip of %v produced %v", v, got)
	}
}

func TestSlotCanonicalizesNaN(t *testing.T) {
	arena := NewArena()
	s := ToSlot(Float(math.NaN()), arena)
	got := FromSlot(s, arena)
	require.True(t, math.IsNaN(got.AsFloat()))
}

func TestSlotPromotesOutOfRangeIntToFloat(t *testing.T) {
	arena := NewArena()
	huge := int64(1) << 60
	s := ToSlot(Int(huge), arena)
	got := FromSlot(s, arena)
	require.True(t, got.IsFloat())
	require.Equal(t, float64(huge), got.AsFloat())
}

func TestSlotRoundTripsHeapValueThroughArena(t *testing.T) {
	arena := NewArena()
	str := NewString("hello")
	s := ToSlot(str, arena)
	got := FromSlot(s, arena)
	require.True(t, got.IsString())
	require.Equal(t, "hello", got.AsString())
}

func TestSlotReusesFreedArenaIndices(t *testing.T) {
	arena := NewArena()
	a := ToSlot(NewArray(nil), arena)
	_ = a
	arena.Release(0)
	b := ToSlot(NewMap(), arena)
	require.Len(t, arena.Objects, 1, "freed index should be reused rather than growing the arena")
	got := FromSlot(b, arena)
	require.True(t, got.IsMap())
}
