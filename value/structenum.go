// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import "fmt"

// StructObj is a typed record: named fields keyed by string (STRUCT_NEW,
// STRUCT_GET/SET, §4.6).
type StructObj struct {
	refcount
	TypeName string
	Fields   map[string]Value
}

// NewStruct constructs a fresh Struct Value (fields taken by reference).
func NewStruct(typeName string, fields map[string]Value) Value {
	return Value{kind: KindStruct, obj: &StructObj{refcount: newRefcount(), TypeName: typeName, Fields: fields}}
}

// AsStruct returns the backing object; only meaningful if IsStruct.
func (v Value) AsStruct() *StructObj { return v.obj.(*StructObj) }

func (s *StructObj) clone() object {
	fields := make(map[string]Value, len(s.Fields))
	for k, f := range s.Fields {
		fields[k] = f
		f.Retain()
	}
	return &StructObj{refcount: newRefcount(), TypeName: s.TypeName, Fields: fields}
}
func (s *StructObj) deepEqual(other object) bool {
	o, ok := other.(*StructObj)
	if !ok || s.TypeName != o.TypeName || len(s.Fields) != len(o.Fields) {
		return false
	}
	for k, f := range s.Fields {
		of, ok := o.Fields[k]
		if !ok || !Equal(f, of) {
			return false
		}
	}
	return true
}

// EnumObj is a typed variant: a named type, a selected variant name, and an
// optional payload (ENUM_NEW, ENUM_IS, ENUM_PAYLOAD, §4.6).
type EnumObj struct {
	refcount
	TypeName string
	Variant  string
	Payload  *Value // nil for payload-less variants
}

// NewEnum constructs a fresh Enum Value. payload may be nil.
func NewEnum(typeName, variant string, payload *Value) Value {
	return Value{kind: KindEnum, obj: &EnumObj{refcount: newRefcount(), TypeName: typeName, Variant: variant, Payload: payload}}
}

// AsEnum returns the backing object; only meaningful if IsEnum.
func (v Value) AsEnum() *EnumObj { return v.obj.(*EnumObj) }

func (e *EnumObj) clone() object {
	var payload *Value
	if e.Payload != nil {
		p := *e.Payload
		p.Retain()
		payload = &p
	}
	return &EnumObj{refcount: newRefcount(), TypeName: e.TypeName, Variant: e.Variant, Payload: payload}
}
func (e *EnumObj) deepEqual(other object) bool {
	o, ok := other.(*EnumObj)
	if !ok || e.TypeName != o.TypeName || e.Variant != o.Variant {
		return false
	}
	if (e.Payload == nil) != (o.Payload == nil) {
		return false
	}
	if e.Payload == nil {
		return true
	}
	return Equal(*e.Payload, *o.Payload)
}

func (e *EnumObj) String() string {
	if e.Payload == nil {
		return fmt.Sprintf("%s::%s", e.TypeName, e.Variant)
	}
	return fmt.Sprintf("%s::%s(%v)", e.TypeName, e.Variant, *e.Payload)
}
