// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package value implements the runtime Value: a tagged union over the
// variants a block's heap can hold (nil, bool, int, float, string, array,
// map, pid, bytes, function, closure, result, option, struct, enum), with
// reference counting and copy-on-write for the container variants.
//
// A Value is a small struct, not an interface: the scalar bits live inline
// and the container/heap variants carry a pointer to a refcounted object.
// This keeps Values cheap to copy on the VM's own Go call stack while still
// giving heap containers (Array, Map, String, Closure, Struct, Enum,
// Result, Option, Bytes) real identity for COW and refcounting purposes.
package value

import "fmt"

// Kind discriminates a Value's variant.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindMap
	KindPid
	KindBytes
	KindFunc
	KindClosure
	KindResult
	KindOption
	KindStruct
	KindEnum
)

var kindNames = [...]string{
	KindNil:     "nil",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindString:  "string",
	KindArray:   "array",
	KindMap:     "map",
	KindPid:     "pid",
	KindBytes:   "bytes",
	KindFunc:    "func",
	KindClosure: "closure",
	KindResult:  "result",
	KindOption:  "option",
	KindStruct:  "struct",
	KindEnum:    "enum",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsContainer reports whether a Kind carries a refcounted heap object
// subject to the copy-on-write contract (§4.1).
func (k Kind) IsContainer() bool {
	switch k {
	case KindString, KindArray, KindMap, KindBytes, KindClosure, KindStruct, KindEnum, KindResult, KindOption:
		return true
	default:
		return false
	}
}
