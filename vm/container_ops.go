// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"unsafe"

	"github.com/probeum/blockrt/value"
)

// dispatchContainerOrProcess handles every opcode step's switch does not
// already cover: arrays, maps, structs, enums, Result/Option, process
// operations, and the capability-gated unsafe primitive. Split out of step's
// switch purely to keep any one function body a manageable size.
func (vm *VM) dispatchContainerOrProcess(op Op) (Status, error) {
	if status, err, ok := vm.dispatchContainer(op); ok {
		return status, err
	}
	if status, err, ok := vm.dispatchProcess(op); ok {
		return status, err
	}
	return vm.raise(ErrKindNotImplemented, op.String(), ErrNotCallable)
}

func (vm *VM) dispatchContainer(op Op) (Status, error, bool) {
	switch op {
	case OpArrayNew:
		n := int(vm.readU16())
		if len(vm.stack) < n {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_NEW", ErrStackUnderflow))
		}
		elems := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, err := vm.popValue()
			if err != nil {
				return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_NEW", err))
			}
			v.Retain()
			elems[i] = v
		}
		vm.pushValue(value.NewArray(elems))
		return vm.withOK(vm.tick(costContainer))

	case OpArrayPush:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_PUSH", err))
		}
		arrVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_PUSH", err))
		}
		if !arrVal.IsArray() {
			return vm.withOK(vm.raise(ErrKindType, "ARRAY_PUSH", value.ErrType))
		}
		arrVal, err = value.EnsureUnique(arrVal)
		if err != nil {
			return vm.withOK(vm.raise(ErrKindType, "ARRAY_PUSH", err))
		}
		arr := arrVal.AsArray()
		v.Retain()
		arr.Elems = append(arr.Elems, v)
		vm.pushValue(arrVal)
		return vm.withOK(vm.tick(costContainer))

	case OpArrayGet:
		idxVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_GET", err))
		}
		arrVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_GET", err))
		}
		if !arrVal.IsArray() || !idxVal.IsInt() {
			return vm.withOK(vm.raise(ErrKindType, "ARRAY_GET", value.ErrType))
		}
		arr := arrVal.AsArray()
		idx := idxVal.AsInt()
		if idx < 0 || idx >= int64(len(arr.Elems)) {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_GET", ErrStackUnderflow))
		}
		vm.pushValue(arr.Elems[idx])
		return vm.withOK(vm.tick(costContainer))

	case OpArraySet:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_SET", err))
		}
		idxVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_SET", err))
		}
		arrVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_SET", err))
		}
		if !arrVal.IsArray() || !idxVal.IsInt() {
			return vm.withOK(vm.raise(ErrKindType, "ARRAY_SET", value.ErrType))
		}
		arrVal, err = value.EnsureUnique(arrVal)
		if err != nil {
			return vm.withOK(vm.raise(ErrKindType, "ARRAY_SET", err))
		}
		arr := arrVal.AsArray()
		idx := idxVal.AsInt()
		if idx < 0 || idx >= int64(len(arr.Elems)) {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_SET", ErrStackUnderflow))
		}
		arr.Elems[idx].Release()
		v.Retain()
		arr.Elems[idx] = v
		vm.pushValue(arrVal)
		return vm.withOK(vm.tick(costContainer))

	case OpArrayLen:
		arrVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ARRAY_LEN", err))
		}
		if !arrVal.IsArray() {
			return vm.withOK(vm.raise(ErrKindType, "ARRAY_LEN", value.ErrType))
		}
		vm.pushValue(value.Int(int64(len(arrVal.AsArray().Elems))))
		return vm.withOK(vm.tick(costTrivial))

	case OpMapNew:
		vm.pushValue(value.NewMap())
		return vm.withOK(vm.tick(costContainer))

	case OpMapGet:
		// popPair returns (deeper, top); the map is pushed before its key.
		mapVal, keyVal, err := vm.popPair()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "MAP_GET", err))
		}
		if !mapVal.IsMap() || !keyVal.IsString() {
			return vm.withOK(vm.raise(ErrKindType, "MAP_GET", value.ErrType))
		}
		v, ok := mapVal.AsMap().Entries[keyVal.AsString()]
		if ok {
			vm.pushValue(value.Some(v))
		} else {
			vm.pushValue(value.None())
		}
		return vm.withOK(vm.tick(costContainer))

	case OpMapSet:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "MAP_SET", err))
		}
		keyVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "MAP_SET", err))
		}
		mapVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "MAP_SET", err))
		}
		if !mapVal.IsMap() || !keyVal.IsString() {
			return vm.withOK(vm.raise(ErrKindType, "MAP_SET", value.ErrType))
		}
		mapVal, err = value.EnsureUnique(mapVal)
		if err != nil {
			return vm.withOK(vm.raise(ErrKindType, "MAP_SET", err))
		}
		m := mapVal.AsMap()
		if old, existed := m.Entries[keyVal.AsString()]; existed {
			old.Release()
		}
		v.Retain()
		m.Entries[keyVal.AsString()] = v
		vm.pushValue(mapVal)
		return vm.withOK(vm.tick(costContainer))

	case OpMapGetIC:
		keyIdx := vm.readU16()
		icIdx := vm.readU16()
		mapVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "MAP_GET_IC", err))
		}
		if !mapVal.IsMap() {
			return vm.withOK(vm.raise(ErrKindType, "MAP_GET_IC", value.ErrType))
		}
		m := mapVal.AsMap()
		key := vm.top().chunk.Constants[keyIdx].AsString()
		ic := vm.top().chunk.Cache(icIdx)
		// The cache never gates correctness (a miss always falls through to a
		// direct map probe, §4.3); since our map is a native Go map rather
		// than a fixed-offset record layout, the cached "slot" carries no
		// addressing meaning of its own, it only records that this call site
		// has seen this map's identity before.
		shape := uintptr(unsafe.Pointer(m))
		ic.Lookup(shape)
		v, ok := m.Entries[key]
		ic.Update(shape, 0)
		if ok {
			vm.pushValue(value.Some(v))
		} else {
			vm.pushValue(value.None())
		}
		return vm.withOK(vm.tick(costContainer))

	case OpStructNew:
		typeIdx := vm.readU16()
		count := int(vm.readU16())
		fields := make(map[string]value.Value, count)
		for i := 0; i < count; i++ {
			v, err := vm.popValue()
			if err != nil {
				return vm.withOK(vm.raise(ErrKindBounds, "STRUCT_NEW", err))
			}
			k, err := vm.popValue()
			if err != nil {
				return vm.withOK(vm.raise(ErrKindBounds, "STRUCT_NEW", err))
			}
			if !k.IsString() {
				return vm.withOK(vm.raise(ErrKindType, "STRUCT_NEW", value.ErrType))
			}
			v.Retain()
			fields[k.AsString()] = v
		}
		typeName := vm.top().chunk.Constants[typeIdx].AsString()
		vm.pushValue(value.NewStruct(typeName, fields))
		return vm.withOK(vm.tick(costContainer))

	case OpStructGet:
		nameIdx := vm.readU16()
		structVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "STRUCT_GET", err))
		}
		if !structVal.IsStruct() {
			return vm.withOK(vm.raise(ErrKindType, "STRUCT_GET", value.ErrType))
		}
		name := vm.top().chunk.Constants[nameIdx].AsString()
		v, ok := structVal.AsStruct().Fields[name]
		if !ok {
			return vm.withOK(vm.raise(ErrKindName, "STRUCT_GET", ErrUndefinedGlobal))
		}
		vm.pushValue(v)
		return vm.withOK(vm.tick(costContainer))

	case OpStructSet:
		nameIdx := vm.readU16()
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "STRUCT_SET", err))
		}
		structVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "STRUCT_SET", err))
		}
		if !structVal.IsStruct() {
			return vm.withOK(vm.raise(ErrKindType, "STRUCT_SET", value.ErrType))
		}
		structVal, err = value.EnsureUnique(structVal)
		if err != nil {
			return vm.withOK(vm.raise(ErrKindType, "STRUCT_SET", err))
		}
		name := vm.top().chunk.Constants[nameIdx].AsString()
		s := structVal.AsStruct()
		if old, existed := s.Fields[name]; existed {
			old.Release()
		}
		v.Retain()
		s.Fields[name] = v
		vm.pushValue(structVal)
		return vm.withOK(vm.tick(costContainer))

	case OpEnumNew:
		typeIdx := vm.readU16()
		variantIdx := vm.readU16()
		payloadVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ENUM_NEW", err))
		}
		var payload *value.Value
		if !payloadVal.IsNil() {
			payloadVal.Retain()
			p := payloadVal
			payload = &p
		}
		typeName := vm.top().chunk.Constants[typeIdx].AsString()
		variant := vm.top().chunk.Constants[variantIdx].AsString()
		vm.pushValue(value.NewEnum(typeName, variant, payload))
		return vm.withOK(vm.tick(costContainer))

	case OpEnumIs:
		variantIdx := vm.readU16()
		enumVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ENUM_IS", err))
		}
		if !enumVal.IsEnum() {
			return vm.withOK(vm.raise(ErrKindType, "ENUM_IS", value.ErrType))
		}
		variant := vm.top().chunk.Constants[variantIdx].AsString()
		vm.pushValue(value.Bool(enumVal.AsEnum().Variant == variant))
		return vm.withOK(vm.tick(costTrivial))

	case OpEnumPayload:
		enumVal, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "ENUM_PAYLOAD", err))
		}
		if !enumVal.IsEnum() {
			return vm.withOK(vm.raise(ErrKindType, "ENUM_PAYLOAD", value.ErrType))
		}
		if p := enumVal.AsEnum().Payload; p != nil {
			vm.pushValue(value.Some(*p))
		} else {
			vm.pushValue(value.None())
		}
		return vm.withOK(vm.tick(costTrivial))

	case OpResultOk:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "RESULT_OK", err))
		}
		v.Retain()
		vm.pushValue(value.Ok(v))
		return vm.withOK(vm.tick(costContainer))

	case OpResultErr:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "RESULT_ERR", err))
		}
		v.Retain()
		vm.pushValue(value.Err(v))
		return vm.withOK(vm.tick(costContainer))

	case OpResultIsOk:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "RESULT_IS_OK", err))
		}
		if !v.IsResult() {
			return vm.withOK(vm.raise(ErrKindType, "RESULT_IS_OK", value.ErrType))
		}
		vm.pushValue(value.Bool(v.IsOk()))
		return vm.withOK(vm.tick(costTrivial))

	case OpResultUnwrap:
		return vm.withOK(vm.unwrapOp("RESULT_UNWRAP"))

	case OpResultUnwrapOr:
		return vm.withOK(vm.unwrapOrOp("RESULT_UNWRAP_OR"))

	case OpOptionSome:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "OPTION_SOME", err))
		}
		v.Retain()
		vm.pushValue(value.Some(v))
		return vm.withOK(vm.tick(costContainer))

	case OpOptionNone:
		vm.pushValue(value.None())
		return vm.withOK(vm.tick(costContainer))

	case OpOptionIsSome:
		v, err := vm.popValue()
		if err != nil {
			return vm.withOK(vm.raise(ErrKindBounds, "OPTION_IS_SOME", err))
		}
		if !v.IsOption() {
			return vm.withOK(vm.raise(ErrKindType, "OPTION_IS_SOME", value.ErrType))
		}
		vm.pushValue(value.Bool(v.IsSome()))
		return vm.withOK(vm.tick(costTrivial))

	case OpOptionUnwrap:
		return vm.withOK(vm.unwrapOp("OPTION_UNWRAP"))

	case OpOptionUnwrapOr:
		return vm.withOK(vm.unwrapOrOp("OPTION_UNWRAP_OR"))

	default:
		return 0, nil, false
	}
}

func (vm *VM) unwrapOp(opName string) (Status, error) {
	v, err := vm.popValue()
	if err != nil {
		return vm.raise(ErrKindBounds, opName, err)
	}
	inner, err := v.Unwrap()
	if err != nil {
		return vm.raise(ErrKindType, opName, err)
	}
	vm.pushValue(inner)
	return vm.tick(costContainer)
}

func (vm *VM) unwrapOrOp(opName string) (Status, error) {
	// popPair returns (deeper, top): the Result/Option sits below its default
	// on the stack, since the default expression is evaluated and pushed
	// last (§4.6 _OR opcode family).
	v, def, err := vm.popPair()
	if err != nil {
		return vm.raise(ErrKindBounds, opName, err)
	}
	vm.pushValue(v.UnwrapOr(def))
	return vm.tick(costContainer)
}

// withOK adapts a (Status, error) pair from the shared helpers into the
// three-valued (Status, error, handled) shape dispatchContainer/dispatchProcess
// return, so every case can reuse step's existing raise/tick helpers.
func (vm *VM) withOK(status Status, err error) (Status, error, bool) {
	return status, err, true
}
