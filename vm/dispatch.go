// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"github.com/probeum/blockrt/value"
)

// step decodes and executes one instruction, returning statusContinue to
// keep Run's loop going, or a terminal Status (yield/waiting/halt/fault)
// once the block must stop running for this turn (§4.6).
func (vm *VM) step() (Status, error) {
	if len(vm.frames) == 0 {
		return StatusHalt, nil
	}
	op := vm.readOp()
	switch op {

	// ---- Stack ----------------------------------------------------------
	case OpPushConst:
		idx := vm.readU16()
		c := vm.top().chunk.Constants[idx]
		if err := vm.pushValue(c); err != nil {
			return vm.raise(ErrKindResource, "PUSH_CONST", err)
		}
		return vm.tick(costTrivial)

	case OpPushNil:
		if err := vm.push(value.NilSlot); err != nil {
			return vm.raise(ErrKindResource, "PUSH_NIL", err)
		}
		return vm.tick(costTrivial)

	case OpPushTrue:
		if err := vm.pushValue(value.Bool(true)); err != nil {
			return vm.raise(ErrKindResource, "PUSH_TRUE", err)
		}
		return vm.tick(costTrivial)

	case OpPushFalse:
		if err := vm.pushValue(value.Bool(false)); err != nil {
			return vm.raise(ErrKindResource, "PUSH_FALSE", err)
		}
		return vm.tick(costTrivial)

	case OpPop:
		if _, err := vm.pop(); err != nil {
			return vm.raise(ErrKindBounds, "POP", err)
		}
		return vm.tick(costTrivial)

	case OpDup:
		if len(vm.stack) < 1 {
			return vm.raise(ErrKindBounds, "DUP", ErrStackUnderflow)
		}
		if err := vm.push(vm.stack[len(vm.stack)-1]); err != nil {
			return vm.raise(ErrKindResource, "DUP", err)
		}
		return vm.tick(costTrivial)

	case OpDup2:
		if len(vm.stack) < 2 {
			return vm.raise(ErrKindBounds, "DUP2", ErrStackUnderflow)
		}
		a, b := vm.stack[len(vm.stack)-2], vm.stack[len(vm.stack)-1]
		if err := vm.push(a); err != nil {
			return vm.raise(ErrKindResource, "DUP2", err)
		}
		if err := vm.push(b); err != nil {
			return vm.raise(ErrKindResource, "DUP2", err)
		}
		return vm.tick(costTrivial)

	case OpSwap:
		y, err := vm.pop()
		if err != nil {
			return vm.raise(ErrKindBounds, "SWAP", err)
		}
		x, err := vm.pop()
		if err != nil {
			return vm.raise(ErrKindBounds, "SWAP", err)
		}
		vm.push(y)
		vm.push(x)
		return vm.tick(costTrivial)

	// ---- Locals / globals ------------------------------------------------
	case OpGetLocal:
		slot := int(vm.readU8())
		idx := vm.top().base + slot
		if idx < 0 || idx >= len(vm.stack) {
			return vm.raise(ErrKindBounds, "GET_LOCAL", ErrStackUnderflow)
		}
		if err := vm.push(vm.stack[idx]); err != nil {
			return vm.raise(ErrKindResource, "GET_LOCAL", err)
		}
		return vm.tick(costTrivial)

	case OpSetLocal:
		slot := int(vm.readU8())
		idx := vm.top().base + slot
		s, err := vm.pop()
		if err != nil {
			return vm.raise(ErrKindBounds, "SET_LOCAL", err)
		}
		if idx == len(vm.stack) {
			// The slot just past the top is a new local: the value stays
			// where it was and becomes that slot.
			vm.stack = append(vm.stack, s)
			return vm.tick(costTrivial)
		}
		if idx < 0 || idx >= len(vm.stack) {
			return vm.raise(ErrKindBounds, "SET_LOCAL", ErrStackUnderflow)
		}
		vm.releaseSlot(vm.stack[idx])
		value.FromSlot(s, vm.arena).Retain()
		vm.stack[idx] = s
		return vm.tick(costTrivial)

	case OpGetGlobal:
		idx := vm.readU16()
		name := vm.top().chunk.Constants[idx].AsString()
		v, ok := vm.globals[name]
		if !ok {
			return vm.raise(ErrKindName, "GET_GLOBAL", ErrUndefinedGlobal)
		}
		if err := vm.pushValue(v); err != nil {
			return vm.raise(ErrKindResource, "GET_GLOBAL", err)
		}
		return vm.tick(costTrivial)

	case OpSetGlobal:
		idx := vm.readU16()
		name := vm.top().chunk.Constants[idx].AsString()
		v, err := vm.popValue()
		if err != nil {
			return vm.raise(ErrKindBounds, "SET_GLOBAL", err)
		}
		if old, existed := vm.globals[name]; existed {
			old.Release()
		}
		v.Retain()
		vm.globals[name] = v
		return vm.tick(costTrivial)

	// ---- Arithmetic -------------------------------------------------------
	case OpAdd:
		return vm.binaryArith("ADD", value.Add)
	case OpSub:
		return vm.binaryArith("SUB", value.Sub)
	case OpMul:
		return vm.binaryArith("MUL", value.Mul)
	case OpDiv:
		return vm.binaryArithDivMod("DIV", value.Div)
	case OpMod:
		return vm.binaryArithDivMod("MOD", value.Mod)
	case OpNeg:
		a, err := vm.popValue()
		if err != nil {
			return vm.raise(ErrKindBounds, "NEG", err)
		}
		r, err := value.Neg(a)
		if err != nil {
			return vm.raise(ErrKindType, "NEG", err)
		}
		vm.pushValue(r)
		return vm.tick(costArithmetic)

	// ---- Bitwise ------------------------------------------------------------
	case OpAnd:
		return vm.binaryBitwise("AND", func(x, y int64) int64 { return x & y })
	case OpOr:
		return vm.binaryBitwise("OR", func(x, y int64) int64 { return x | y })
	case OpXor:
		return vm.binaryBitwise("XOR", func(x, y int64) int64 { return x ^ y })
	case OpShl:
		return vm.binaryBitwise("SHL", func(x, y int64) int64 { return x << uint64(y) })
	case OpShr:
		return vm.binaryBitwise("SHR", func(x, y int64) int64 { return x >> uint64(y) })
	case OpNot:
		a, err := vm.popValue()
		if err != nil {
			return vm.raise(ErrKindBounds, "NOT", err)
		}
		switch a.Kind() {
		case value.KindBool:
			vm.pushValue(value.Bool(!a.AsBool()))
		case value.KindInt:
			vm.pushValue(value.Int(^a.AsInt()))
		default:
			return vm.raise(ErrKindType, "NOT", value.ErrType)
		}
		return vm.tick(costArithmetic)

	// ---- Comparison -----------------------------------------------------------
	case OpEq:
		a, b, err := vm.popPair()
		if err != nil {
			return vm.raise(ErrKindBounds, "EQ", err)
		}
		vm.pushValue(value.Bool(value.Equal(a, b)))
		return vm.tick(costArithmetic)
	case OpNeq:
		a, b, err := vm.popPair()
		if err != nil {
			return vm.raise(ErrKindBounds, "NEQ", err)
		}
		vm.pushValue(value.Bool(!value.Equal(a, b)))
		return vm.tick(costArithmetic)
	case OpLt:
		return vm.compareOp("LT", func(c int) bool { return c < 0 })
	case OpLte:
		return vm.compareOp("LTE", func(c int) bool { return c <= 0 })
	case OpGt:
		return vm.compareOp("GT", func(c int) bool { return c > 0 })
	case OpGte:
		return vm.compareOp("GTE", func(c int) bool { return c >= 0 })

	// ---- Control flow ---------------------------------------------------
	case OpJump:
		offset := vm.readU16()
		if err := vm.relJump(int(offset)); err != nil {
			return vm.raise(ErrKindBounds, "JUMP", err)
		}
		return vm.tick(costTrivial)

	case OpJumpIf:
		offset := vm.readU16()
		if len(vm.stack) < 1 {
			return vm.raise(ErrKindBounds, "JUMP_IF", ErrStackUnderflow)
		}
		if vm.peekValue(0).Truthy() {
			if err := vm.relJump(int(offset)); err != nil {
				return vm.raise(ErrKindBounds, "JUMP_IF", err)
			}
		}
		return vm.tick(costTrivial)

	case OpJumpUnless:
		offset := vm.readU16()
		if len(vm.stack) < 1 {
			return vm.raise(ErrKindBounds, "JUMP_UNLESS", ErrStackUnderflow)
		}
		if !vm.peekValue(0).Truthy() {
			if err := vm.relJump(int(offset)); err != nil {
				return vm.raise(ErrKindBounds, "JUMP_UNLESS", err)
			}
		}
		return vm.tick(costTrivial)

	case OpLoop:
		offset := vm.readU16()
		f := vm.top()
		f.ip -= int(offset)
		if f.ip < 0 || f.ip > len(f.chunk.Code) {
			return vm.raise(ErrKindBounds, "LOOP", ErrJumpOutOfRange)
		}
		vm.safePoint()
		return vm.tick(costTrivial)

	// ---- Calls -------------------------------------------------------------
	case OpCall:
		arity := int(vm.readU8())
		return vm.opCall(arity)
	case OpReturn:
		return vm.opReturn()
	case OpHalt:
		return StatusHalt, nil
	case OpYield:
		vm.reductions += costTrivial
		return StatusYield, nil

	// ---- Closures --------------------------------------------------------
	case OpClosure:
		return vm.opClosure()
	case OpGetUpvalue:
		idx := int(vm.readU8())
		f := vm.top()
		if idx >= len(f.upvalues) {
			return vm.raise(ErrKindBounds, "GET_UPVALUE", ErrStackUnderflow)
		}
		vm.pushValue(f.upvalues[idx])
		return vm.tick(costTrivial)
	case OpSetUpvalue:
		idx := int(vm.readU8())
		v, err := vm.popValue()
		if err != nil {
			return vm.raise(ErrKindBounds, "SET_UPVALUE", err)
		}
		f := vm.top()
		if idx >= len(f.upvalues) {
			return vm.raise(ErrKindBounds, "SET_UPVALUE", ErrStackUnderflow)
		}
		f.upvalues[idx].Release()
		v.Retain()
		f.upvalues[idx] = v
		return vm.tick(costTrivial)

	default:
		return vm.dispatchContainerOrProcess(op)
	}
}

func (vm *VM) relJump(offset int) error {
	f := vm.top()
	f.ip += offset
	if f.ip < 0 || f.ip > len(f.chunk.Code) {
		return ErrJumpOutOfRange
	}
	return nil
}

func (vm *VM) raise(kind ErrorKind, op string, err error) (Status, error) {
	return StatusFault, fault(kind, op, err)
}

func (vm *VM) popPair() (value.Value, value.Value, error) {
	b, err := vm.popValue()
	if err != nil {
		return value.Nil, value.Nil, err
	}
	a, err := vm.popValue()
	if err != nil {
		return value.Nil, value.Nil, err
	}
	return a, b, nil
}

func (vm *VM) binaryArith(op string, fn func(a, b value.Value) (value.Value, error)) (Status, error) {
	a, b, err := vm.popPair()
	if err != nil {
		return vm.raise(ErrKindBounds, op, err)
	}
	r, err := fn(a, b)
	if err != nil {
		return vm.raise(ErrKindType, op, err)
	}
	vm.pushValue(r)
	return vm.tick(costArithmetic)
}

func (vm *VM) binaryArithDivMod(op string, fn func(a, b value.Value) (value.Value, error)) (Status, error) {
	a, b, err := vm.popPair()
	if err != nil {
		return vm.raise(ErrKindBounds, op, err)
	}
	r, err := fn(a, b)
	if err != nil {
		kind := ErrKindType
		if err == value.ErrDivByZero {
			kind = ErrKindArithmetic
		}
		return vm.raise(kind, op, err)
	}
	vm.pushValue(r)
	return vm.tick(costArithmetic)
}

func (vm *VM) binaryBitwise(op string, fn func(a, b int64) int64) (Status, error) {
	a, b, err := vm.popPair()
	if err != nil {
		return vm.raise(ErrKindBounds, op, err)
	}
	if !a.IsInt() || !b.IsInt() {
		return vm.raise(ErrKindType, op, value.ErrType)
	}
	vm.pushValue(value.Int(fn(a.AsInt(), b.AsInt())))
	return vm.tick(costArithmetic)
}

func (vm *VM) compareOp(op string, test func(c int) bool) (Status, error) {
	a, b, err := vm.popPair()
	if err != nil {
		return vm.raise(ErrKindBounds, op, err)
	}
	c, err := value.Compare(a, b)
	if err != nil {
		return vm.raise(ErrKindType, op, err)
	}
	vm.pushValue(value.Bool(test(c)))
	return vm.tick(costArithmetic)
}

func (vm *VM) releaseSlot(s Slot) {
	value.FromSlot(s, vm.arena).Release()
}

func (vm *VM) opCall(arity int) (Status, error) {
	if len(vm.stack) < arity+1 {
		return vm.raise(ErrKindBounds, "CALL", ErrStackUnderflow)
	}
	base := len(vm.stack) - arity - 1
	callee := vm.peekValue(arity)

	var funcIndex uint32
	var upvalues []value.Value
	switch callee.Kind() {
	case value.KindFunc:
		funcIndex = callee.AsFuncIndex()
	case value.KindClosure:
		c := callee.AsClosure()
		funcIndex = c.FuncIndex
		upvalues = c.Upvalues
	default:
		return vm.raise(ErrKindType, "CALL", ErrNotCallable)
	}
	if int(funcIndex) >= len(vm.code.Functions) {
		return vm.raise(ErrKindName, "CALL", ErrNotCallable)
	}
	if len(vm.frames) >= vm.maxCallDepth {
		return vm.raise(ErrKindResource, "CALL", ErrStackOverflow)
	}
	chunk := vm.code.Functions[funcIndex]
	vm.frames = append(vm.frames, frame{chunk: chunk, base: base, funcIndex: funcIndex, upvalues: upvalues})
	return vm.tick(costCall)
}

func (vm *VM) opReturn() (Status, error) {
	retVal, err := vm.popValue()
	if err != nil {
		return vm.raise(ErrKindBounds, "RETURN", err)
	}
	f := vm.frames[len(vm.frames)-1]
	for i := f.base; i < len(vm.stack); i++ {
		vm.releaseSlot(vm.stack[i])
	}
	vm.stack = vm.stack[:f.base]
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		return StatusHalt, nil
	}
	if err := vm.pushValue(retVal); err != nil {
		return vm.raise(ErrKindResource, "RETURN", err)
	}
	return vm.tick(costCall)
}

func (vm *VM) opClosure() (Status, error) {
	funcIdx := vm.readU16()
	n := int(vm.readU8())
	ups := make([]value.Value, n)
	f := vm.top()
	for i := 0; i < n; i++ {
		isLocal := vm.readU8()
		idx := int(vm.readU16())
		var v value.Value
		if isLocal != 0 {
			if f.base+idx >= len(vm.stack) {
				return vm.raise(ErrKindBounds, "CLOSURE", ErrStackUnderflow)
			}
			v = value.FromSlot(vm.stack[f.base+idx], vm.arena)
		} else {
			if idx >= len(f.upvalues) {
				return vm.raise(ErrKindBounds, "CLOSURE", ErrStackUnderflow)
			}
			v = f.upvalues[idx]
		}
		v.Retain()
		ups[i] = v
	}
	if err := vm.pushValue(value.NewClosure(uint32(funcIdx), ups)); err != nil {
		return vm.raise(ErrKindResource, "CLOSURE", err)
	}
	return vm.tick(costContainer)
}
