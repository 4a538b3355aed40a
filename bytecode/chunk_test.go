// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"testing"

	"github.com/probeum/blockrt/value"
	"github.com/stretchr/testify/require"
)

func TestChunkAppendAndRead(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(value.Int(7))
	c.AppendOp(OpPushConst, 1)
	c.AppendU16(idx)
	c.AppendOp(OpHalt, 1)

	require.Equal(t, Op(OpPushConst), Op(c.Code[0]))
	require.EqualValues(t, idx, c.ReadU16(1))
	require.Equal(t, Op(OpHalt), Op(c.Code[3]))
	require.Len(t, c.Lines, len(c.Code))
}

func TestChunkReserveAndPatchJump(t *testing.T) {
	c := NewChunk()
	at := c.ReserveJump(OpJumpIf, 1)
	c.AppendOp(OpPop, 2) // filler between jump and target
	c.AppendOp(OpHalt, 3)
	require.NoError(t, c.PatchJump(at))

	offset := c.ReadU16(at)
	require.EqualValues(t, len(c.Code)-(at+2), offset)
}

func TestChunkEmitLoopBackwardOffset(t *testing.T) {
	c := NewChunk()
	loopStart := c.Len()
	c.AppendOp(OpPop, 1)
	require.NoError(t, c.EmitLoop(loopStart, 2))

	// The LOOP instruction's offset, measured back from the end of its own
	// operand, must land exactly on loopStart.
	loopOperandAt := len(c.Code) - 2
	offset := int(c.ReadU16(loopOperandAt))
	landedAt := (loopOperandAt + 2) - offset
	require.Equal(t, loopStart, landedAt)
}

func TestChunkAddInlineCache(t *testing.T) {
	c := NewChunk()
	idx := c.AddInlineCache()
	require.Equal(t, "uninitialized", c.Cache(idx).State())
}

func TestBytecodeAddStringDedups(t *testing.T) {
	b := New()
	a := b.AddString("foo")
	same := b.AddString("foo")
	other := b.AddString("bar")
	require.Equal(t, a, same)
	require.NotEqual(t, a, other)
	require.Len(t, b.Strings, 2)
}

func TestBytecodeRefcount(t *testing.T) {
	b := New()
	require.EqualValues(t, 1, b.RefCount())
	b.Retain()
	require.EqualValues(t, 2, b.RefCount())
	require.False(t, b.Release())
	require.True(t, b.Release())
}

func TestDisassembleProducesOneLinePerInstruction(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(value.Int(1))
	c.AppendOp(OpPushConst, 1)
	c.AppendU16(idx)
	c.AppendOp(OpHalt, 1)

	out := Disassemble(c)
	require.Contains(t, out, "PUSH_CONST")
	require.Contains(t, out, "HALT")
}
