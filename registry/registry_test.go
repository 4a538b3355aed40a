// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
)

func newTestBlock(pid uint64) *block.Block {
	code := bytecode.New()
	code.Main.AppendOp(bytecode.OpHalt, 1)
	return block.New(pid, code, 0, block.DefaultLimits(), 0, nil)
}

func TestNextPIDIsMonotonicAndSkipsZero(t *testing.T) {
	r := New()
	a := r.NextPID()
	b := r.NextPID()
	require.Equal(t, uint64(1), a)
	require.Equal(t, uint64(2), b)
}

func TestInsertGetRemove(t *testing.T) {
	r := New()
	blk := newTestBlock(5)
	r.Insert(blk)
	got, ok := r.Get(5)
	require.True(t, ok)
	require.Same(t, blk, got)
	require.Equal(t, 1, r.Count())
	r.Remove(5)
	_, ok = r.Get(5)
	require.False(t, ok)
}

func TestNamedTableRejectsDuplicate(t *testing.T) {
	nt := NewNamedTable()
	require.NoError(t, nt.Register("logger", 1))
	require.ErrorIs(t, nt.Register("logger", 2), ErrNameTaken)
	pid, ok := nt.Whereis("logger")
	require.True(t, ok)
	require.Equal(t, uint64(1), pid)
}

func TestNamedTableReRegisterSamePIDIsFine(t *testing.T) {
	nt := NewNamedTable()
	require.NoError(t, nt.Register("logger", 1))
	require.NoError(t, nt.Register("logger", 1))
}

func TestGroupRegistryJoinLeave(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("workers", 1)
	g.Join("workers", 2)
	require.ElementsMatch(t, []uint64{1, 2}, g.Members("workers"))
	g.Leave("workers", 1)
	require.ElementsMatch(t, []uint64{2}, g.Members("workers"))
}

func TestGroupRegistryLeaveAll(t *testing.T) {
	g := NewGroupRegistry()
	g.Join("a", 1)
	g.Join("b", 1)
	g.LeaveAll(1)
	require.Empty(t, g.Members("a"))
	require.Empty(t, g.Members("b"))
}
