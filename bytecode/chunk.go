// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/probeum/blockrt/value"
)

// ErrJumpTooFar is returned when PatchJump's computed offset does not fit in
// the 16-bit operand.
var ErrJumpTooFar = errors.New("bytecode: jump offset does not fit in 16 bits")

// Chunk is a single bytecode buffer plus its constant pool and source line
// table (§3 "Bytecode chunk"). Line[i] is the source line that produced the
// instruction whose opcode byte is at Code[i]; it is only populated at the
// opcode byte's own index, not at operand bytes, since nothing ever looks up
// a mid-instruction offset.
type Chunk struct {
	Code      []byte
	Lines     []uint32
	Constants []value.Value

	// caches holds one inline-cache slot per OpMapGetIC site, indexed by the
	// slot index encoded in that instruction's operand (§4.3).
	caches []*InlineCache
}

// NewChunk returns an empty chunk.
func NewChunk() *Chunk {
	return &Chunk{}
}

// Len returns the number of bytes of code emitted so far.
func (c *Chunk) Len() int { return len(c.Code) }

// AppendOp emits an opcode byte at the given source line and returns the
// index it was written at.
func (c *Chunk) AppendOp(op Op, line uint32) int {
	idx := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Lines = append(c.Lines, line)
	return idx
}

// AppendU8 emits a single immediate operand byte.
func (c *Chunk) AppendU8(b uint8) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, 0)
}

// AppendU16 emits a big-endian 16-bit immediate operand.
func (c *Chunk) AppendU16(v uint16) {
	c.Code = append(c.Code, byte(v>>8), byte(v))
	c.Lines = append(c.Lines, 0, 0)
}

// ReserveJump emits a placeholder OpJump/OpJumpIf/OpJumpUnless with a zero
// 16-bit offset and returns the index of the first operand byte, to be
// resolved later by PatchJump once the destination is known.
func (c *Chunk) ReserveJump(op Op, line uint32) int {
	c.AppendOp(op, line)
	operandAt := len(c.Code)
	c.AppendU16(0)
	return operandAt
}

// PatchJump resolves a forward jump previously reserved at operandAt (the
// value ReserveJump returned) to land at the chunk's current end.
func (c *Chunk) PatchJump(operandAt int) error {
	offset := len(c.Code) - (operandAt + 2)
	if offset < 0 || offset > 0xFFFF {
		return fmt.Errorf("%w: offset %d", ErrJumpTooFar, offset)
	}
	binary.BigEndian.PutUint16(c.Code[operandAt:], uint16(offset))
	return nil
}

// EmitLoop emits an OpLoop instruction whose 16-bit backward offset returns
// execution to loopStart (an index previously captured with Len()).
func (c *Chunk) EmitLoop(loopStart int, line uint32) error {
	c.AppendOp(OpLoop, line)
	// Offset is measured from the end of this instruction's operand back to
	// loopStart, matching JUMP's "relative to end of operand" convention.
	offset := (len(c.Code) + 2) - loopStart
	if offset < 0 || offset > 0xFFFF {
		return fmt.Errorf("%w: offset %d", ErrJumpTooFar, offset)
	}
	c.AppendU16(uint16(offset))
	return nil
}

// AddConstant appends v to the constant pool and returns its index. Constants
// are not deduplicated here; callers wanting string dedup go through
// Bytecode.AddString instead.
func (c *Chunk) AddConstant(v value.Value) uint16 {
	c.Constants = append(c.Constants, v)
	return uint16(len(c.Constants) - 1)
}

// AddInlineCache allocates a fresh uninitialized inline-cache slot for an
// OpMapGetIC site and returns its index.
func (c *Chunk) AddInlineCache() uint16 {
	c.caches = append(c.caches, NewInlineCache())
	return uint16(len(c.caches) - 1)
}

// Cache returns the inline-cache slot at idx.
func (c *Chunk) Cache(idx uint16) *InlineCache {
	return c.caches[idx]
}

// ReadU8 reads the operand byte at pc.
func (c *Chunk) ReadU8(pc int) uint8 {
	return c.Code[pc]
}

// ReadU16 reads a big-endian 16-bit operand at pc.
func (c *Chunk) ReadU16(pc int) uint16 {
	return binary.BigEndian.Uint16(c.Code[pc:])
}
