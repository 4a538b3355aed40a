// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/value"
)

// frame captures one call's window onto the shared value stack: a call's
// locals live at stack positions [base, base+n), with slot 0 holding the
// callee itself (§4.6 "CALL arity: ... establishes a new frame with slot 0
// = callee and slots 1..arity = arguments").
//
// upvalues holds a closure frame's captured values directly (not packed into
// Slots): GET_UPVALUE/SET_UPVALUE address this slice by index, and a
// closure's Upvalues are already []value.Value on ClosureObj, so no
// Slot<->Value round trip is needed to read or write them.
type frame struct {
	chunk     *bytecode.Chunk
	ip        int
	base      int
	funcIndex uint32 // index into Bytecode.Functions, or mainFuncIndex for the main chunk
	upvalues  []value.Value
}

// mainFuncIndex is the sentinel funcIndex for the top-level/main chunk's
// frame, which is not addressable via OP_CLOSURE.
const mainFuncIndex = ^uint32(0)
