// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"sync/atomic"

	"github.com/probeum/blockrt/value"
)

// ToolMeta describes one callable exposed to tool/inference callbacks
// (name, description, parameter schema, return type — §3). The runtime core
// only carries this metadata through serialization; invoking a tool is an
// external collaborator's concern.
type ToolMeta struct {
	Name        string
	Description string
	ParamSchema string
	ReturnType  string
}

// Bytecode is the immutable, refcounted unit of compiled code a block
// executes (§3, §4.2). No block owns a Bytecode; blocks only borrow it, so
// a Bytecode may be attached to many blocks concurrently — every field here
// is treated as read-only once blocks run it (there is no Freeze step that
// enforces this), the one exception being the atomic refcount.
type Bytecode struct {
	Main      *Chunk
	Functions []*Chunk
	Strings   []string
	Tools     []ToolMeta

	interned *value.InternTable
	refcount int32
}

// New returns an empty, mutable Bytecode ready for a compiler (or test) to
// populate via AddFunctionChunk/AddString/RegisterTool before any block
// runs it.
func New() *Bytecode {
	return &Bytecode{
		Main:     NewChunk(),
		interned: value.NewInternTable(0),
		refcount: 1,
	}
}

// AddFunctionChunk appends a new function chunk and returns its index, the
// value OP_CLOSURE's fnIdx operand refers to.
func (b *Bytecode) AddFunctionChunk(c *Chunk) uint16 {
	b.Functions = append(b.Functions, c)
	return uint16(len(b.Functions) - 1)
}

// AddString interns s into the shared string table, returning the existing
// index if s was already present (dedup-returning, §4.2).
func (b *Bytecode) AddString(s string) uint32 {
	for i, existing := range b.Strings {
		if existing == s {
			return uint32(i)
		}
	}
	b.Strings = append(b.Strings, s)
	return uint32(len(b.Strings) - 1)
}

// InternString returns the shared, refcount-saturated String Value for s,
// deduplicated against every other call on this Bytecode's intern table
// (§4.1 "String interning").
func (b *Bytecode) InternString(s string) value.Value {
	return b.interned.Intern(s)
}

// RegisterTool appends a tool descriptor and returns its index.
func (b *Bytecode) RegisterTool(t ToolMeta) uint32 {
	b.Tools = append(b.Tools, t)
	return uint32(len(b.Tools) - 1)
}

// Retain bumps the Bytecode's atomic refcount; safe to call concurrently
// from multiple blocks attaching to the same code object.
func (b *Bytecode) Retain() {
	atomic.AddInt32(&b.refcount, 1)
}

// Release drops the refcount and reports whether it reached zero (the last
// holder, who may now discard the Bytecode).
func (b *Bytecode) Release() bool {
	return atomic.AddInt32(&b.refcount, -1) == 0
}

// RefCount returns the current refcount, for tests and diagnostics.
func (b *Bytecode) RefCount() int32 {
	return atomic.LoadInt32(&b.refcount)
}
