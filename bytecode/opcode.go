// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package bytecode implements the immutable, refcounted code object a Block's
// VM executes: chunks of stack-machine opcodes, a constant pool, a string
// table, and tool metadata, plus its wire serialization (§4.2, §6).
package bytecode

import "fmt"

// Op is an 8-bit stack-machine instruction code.
//
// Instructions are variable-width: the opcode byte is followed by zero or
// more immediate operand bytes, whose count and meaning is fixed per opcode
// (OpClosure is the one exception, whose upvalue list length is itself part
// of the encoding — see OperandBytes).
type Op uint8

const (
	// ---- Stack ---------------------------------------------------------
	OpPushConst Op = iota // u16 constant index
	OpPushNil
	OpPushTrue
	OpPushFalse
	OpPop
	OpDup
	OpDup2
	OpSwap

	// ---- Locals / globals ------------------------------------------------
	OpGetLocal  // u8 slot
	OpSetLocal  // u8 slot
	OpGetGlobal // u16 name constant index
	OpSetGlobal // u16 name constant index

	// ---- Arithmetic --------------------------------------------------------
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	// ---- Bitwise -------------------------------------------------------------
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr

	// ---- Comparison ----------------------------------------------------------
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte

	// ---- Control flow --------------------------------------------------------
	OpJump        // u16 forward offset from end of operand
	OpJumpIf      // u16 forward offset; does not pop condition
	OpJumpUnless  // u16 forward offset; does not pop condition
	OpLoop        // u16 backward offset

	// ---- Calls -----------------------------------------------------------
	OpCall   // u8 arity
	OpReturn
	OpHalt
	OpYield

	// ---- Closures --------------------------------------------------------
	OpClosure    // u16 function chunk index, u8 upvalue count, then per upvalue: u8 isLocal, u16 index
	OpGetUpvalue // u8 upvalue index
	OpSetUpvalue // u8 upvalue index

	// ---- Arrays ----------------------------------------------------------
	OpArrayNew  // u16 element count, popped from the stack
	OpArrayPush
	OpArrayGet
	OpArraySet
	OpArrayLen

	// ---- Maps --------------------------------------------------------------
	OpMapNew
	OpMapGet
	OpMapSet
	OpMapGetIC // u16 key constant index, u16 inline-cache slot index

	// ---- Process operations --------------------------------------------------
	OpSpawn          // u16 function chunk index
	OpSend
	OpReceive
	OpReceiveTimeout
	OpSelf
	OpLink
	OpUnlink
	OpMonitor
	OpDemonitor

	// ---- Struct / enum ---------------------------------------------------
	OpStructNew   // u16 type-name constant index, u16 field count
	OpStructGet   // u16 field-name constant index
	OpStructSet   // u16 field-name constant index
	OpEnumNew     // u16 type-name constant index, u16 variant-name constant index
	OpEnumIs      // u16 variant-name constant index
	OpEnumPayload

	// ---- Result / Option -----------------------------------------------------
	OpResultOk
	OpResultErr
	OpResultIsOk
	OpResultUnwrap
	OpResultUnwrapOr
	OpOptionSome
	OpOptionNone
	OpOptionIsSome
	OpOptionUnwrap
	OpOptionUnwrapOr

	// ---- Capability-gated unsafe primitives ---------------------------------

	// OpSHA3 hashes the top-of-stack Bytes value with SHA3-256, replacing it
	// with the 32-byte digest. Gated by CapUnsafePrimitives.
	OpSHA3

	// opCount must remain the last constant.
	opCount
)

const opVariable = -1

// opInfo groups the disassembly mnemonic and immediate-operand byte width.
type opInfo struct {
	name    string
	operand int // bytes of immediate operand; opVariable for OpClosure
}

var opTable = [opCount]opInfo{
	OpPushConst:  {"PUSH_CONST", 2},
	OpPushNil:    {"PUSH_NIL", 0},
	OpPushTrue:   {"PUSH_TRUE", 0},
	OpPushFalse:  {"PUSH_FALSE", 0},
	OpPop:        {"POP", 0},
	OpDup:        {"DUP", 0},
	OpDup2:       {"DUP2", 0},
	OpSwap:       {"SWAP", 0},

	OpGetLocal:  {"GET_LOCAL", 1},
	OpSetLocal:  {"SET_LOCAL", 1},
	OpGetGlobal: {"GET_GLOBAL", 2},
	OpSetGlobal: {"SET_GLOBAL", 2},

	OpAdd: {"ADD", 0},
	OpSub: {"SUB", 0},
	OpMul: {"MUL", 0},
	OpDiv: {"DIV", 0},
	OpMod: {"MOD", 0},
	OpNeg: {"NEG", 0},

	OpAnd: {"AND", 0},
	OpOr:  {"OR", 0},
	OpXor: {"XOR", 0},
	OpNot: {"NOT", 0},
	OpShl: {"SHL", 0},
	OpShr: {"SHR", 0},

	OpEq:  {"EQ", 0},
	OpNeq: {"NEQ", 0},
	OpLt:  {"LT", 0},
	OpLte: {"LTE", 0},
	OpGt:  {"GT", 0},
	OpGte: {"GTE", 0},

	OpJump:       {"JUMP", 2},
	OpJumpIf:     {"JUMP_IF", 2},
	OpJumpUnless: {"JUMP_UNLESS", 2},
	OpLoop:       {"LOOP", 2},

	OpCall:   {"CALL", 1},
	OpReturn: {"RETURN", 0},
	OpHalt:   {"HALT", 0},
	OpYield:  {"YIELD", 0},

	OpClosure:    {"CLOSURE", opVariable},
	OpGetUpvalue: {"GET_UPVALUE", 1},
	OpSetUpvalue: {"SET_UPVALUE", 1},

	OpArrayNew:  {"ARRAY_NEW", 2},
	OpArrayPush: {"ARRAY_PUSH", 0},
	OpArrayGet:  {"ARRAY_GET", 0},
	OpArraySet:  {"ARRAY_SET", 0},
	OpArrayLen:  {"ARRAY_LEN", 0},

	OpMapNew:   {"MAP_NEW", 0},
	OpMapGet:   {"MAP_GET", 0},
	OpMapSet:   {"MAP_SET", 0},
	OpMapGetIC: {"MAP_GET_IC", 4},

	OpSpawn:          {"SPAWN", 2},
	OpSend:           {"SEND", 0},
	OpReceive:        {"RECEIVE", 0},
	OpReceiveTimeout: {"RECEIVE_TIMEOUT", 0},
	OpSelf:           {"SELF", 0},
	OpLink:           {"LINK", 0},
	OpUnlink:         {"UNLINK", 0},
	OpMonitor:        {"MONITOR", 0},
	OpDemonitor:      {"DEMONITOR", 0},

	OpStructNew:   {"STRUCT_NEW", 4},
	OpStructGet:   {"STRUCT_GET", 2},
	OpStructSet:   {"STRUCT_SET", 2},
	OpEnumNew:     {"ENUM_NEW", 4},
	OpEnumIs:      {"ENUM_IS", 2},
	OpEnumPayload: {"ENUM_PAYLOAD", 0},

	OpResultOk:       {"RESULT_OK", 0},
	OpResultErr:      {"RESULT_ERR", 0},
	OpResultIsOk:     {"RESULT_IS_OK", 0},
	OpResultUnwrap:   {"RESULT_UNWRAP", 0},
	OpResultUnwrapOr: {"RESULT_UNWRAP_OR", 0},
	OpOptionSome:     {"OPTION_SOME", 0},
	OpOptionNone:     {"OPTION_NONE", 0},
	OpOptionIsSome:   {"OPTION_IS_SOME", 0},
	OpOptionUnwrap:   {"OPTION_UNWRAP", 0},
	OpOptionUnwrapOr: {"OPTION_UNWRAP_OR", 0},

	OpSHA3: {"SHA3", 0},
}

// String returns the opcode's disassembly mnemonic.
func (op Op) String() string {
	if int(op) >= len(opTable) {
		return fmt.Sprintf("OP_UNKNOWN(0x%02x)", uint8(op))
	}
	return opTable[op].name
}

// OperandBytes returns the number of fixed immediate-operand bytes following
// the opcode byte, or opVariable for OpClosure whose upvalue list length is
// itself encoded inline.
func (op Op) OperandBytes() int {
	if int(op) >= len(opTable) {
		return 0
	}
	return opTable[op].operand
}

// Valid reports whether op is a recognized opcode.
func (op Op) Valid() bool { return int(op) < int(opCount) }
