// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInlineCacheDegradesThroughStates(t *testing.T) {
	ic := NewInlineCache()
	require.Equal(t, "uninitialized", ic.State())

	ic.Update(1, 0)
	require.Equal(t, "monomorphic", ic.State())

	for shape := uintptr(2); shape <= maxPolymorphicShapes; shape++ {
		ic.Update(shape, int(shape))
	}
	require.Equal(t, "polymorphic", ic.State())

	// One more distinct shape past the limit degrades to megamorphic.
	ic.Update(uintptr(maxPolymorphicShapes+1), 99)
	require.Equal(t, "megamorphic", ic.State())

	slot, ok := ic.Lookup(uintptr(maxPolymorphicShapes + 1))
	require.True(t, ok)
	require.Equal(t, 99, slot)
}

func TestInlineCacheMissReturnsFalseAtEveryState(t *testing.T) {
	ic := NewInlineCache()
	_, ok := ic.Lookup(1)
	require.False(t, ok)

	ic.Update(1, 5)
	_, ok = ic.Lookup(2)
	require.False(t, ok)
}

func TestInlineCacheUpdateOverwritesSameShape(t *testing.T) {
	ic := NewInlineCache()
	ic.Update(1, 0)
	ic.Update(1, 7)
	slot, ok := ic.Lookup(1)
	require.True(t, ok)
	require.Equal(t, 7, slot)
}
