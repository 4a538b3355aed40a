// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/probeum/blockrt/value"
)

const (
	// magic identifies a blockrt bytecode file ("BLKR" read big-endian).
	magic uint32 = 0x424C4B52

	// version is the wire format version this build writes and the highest
	// it will accept on read.
	version uint32 = 1

	// maxCodeSize caps a single chunk's code buffer to defeat hostile
	// inputs that declare an oversized length (§4.2, §6).
	maxCodeSize = 16 * 1024 * 1024

	// maxConstCount caps a single chunk's constant pool length.
	maxConstCount = 1 << 20
)

// Value tags for the constant-pool wire encoding (§6).
const (
	tagValueNil    = 0
	tagValueBool   = 1
	tagValueInt    = 2
	tagValueFloat  = 3
	tagValueString = 4
)

var (
	// ErrBadMagic is returned when the header's magic does not match.
	ErrBadMagic = errors.New("bytecode: bad magic")
	// ErrNewerVersion is returned when the header declares a version newer
	// than this build understands.
	ErrNewerVersion = errors.New("bytecode: unsupported (newer) version")
	// ErrCodeTooLarge is returned when a chunk's declared code size exceeds
	// maxCodeSize.
	ErrCodeTooLarge = errors.New("bytecode: code size exceeds limit")
	// ErrTooManyConstants is returned when a chunk's declared constant count
	// exceeds maxConstCount.
	ErrTooManyConstants = errors.New("bytecode: constant count exceeds limit")
	// ErrTruncated is returned when a declared length would read past the
	// end of the input buffer.
	ErrTruncated = errors.New("bytecode: truncated input")
	// ErrBadValueTag is returned when a constant-pool entry's tag byte does
	// not match any known Value wire encoding.
	ErrBadValueTag = errors.New("bytecode: unrecognized value tag")
)

// Serialize encodes b into the big-endian wire format described in §6.
func (b *Bytecode) Serialize() []byte {
	var buf bytes.Buffer
	var u32 [4]byte

	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(u32[:], v)
		buf.Write(u32[:])
	}

	putU32(magic)
	putU32(version)
	writeChunk(&buf, b.Main)

	putU32(uint32(len(b.Functions)))
	for _, fn := range b.Functions {
		writeChunk(&buf, fn)
	}

	putU32(uint32(len(b.Strings)))
	for _, s := range b.Strings {
		putU32(uint32(len(s)))
		buf.WriteString(s)
	}

	putU32(uint32(len(b.Tools)))
	for _, t := range b.Tools {
		writeString(&buf, t.Name)
		writeString(&buf, t.Description)
		writeString(&buf, t.ParamSchema)
		writeString(&buf, t.ReturnType)
	}

	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(s)))
	buf.Write(u32[:])
	buf.WriteString(s)
}

func writeChunk(buf *bytes.Buffer, c *Chunk) {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(c.Code)))
	buf.Write(u32[:])
	buf.Write(c.Code)
	for _, ln := range c.Lines {
		binary.BigEndian.PutUint32(u32[:], ln)
		buf.Write(u32[:])
	}
	binary.BigEndian.PutUint32(u32[:], uint32(len(c.Constants)))
	buf.Write(u32[:])
	for _, v := range c.Constants {
		writeValue(buf, v)
	}
}

func writeValue(buf *bytes.Buffer, v value.Value) {
	switch v.Kind() {
	case value.KindNil:
		buf.WriteByte(tagValueNil)
	case value.KindBool:
		buf.WriteByte(tagValueBool)
		if v.AsBool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindInt:
		buf.WriteByte(tagValueInt)
		var b8 [8]byte
		binary.BigEndian.PutUint64(b8[:], uint64(v.AsInt()))
		buf.Write(b8[:])
	case value.KindFloat:
		buf.WriteByte(tagValueFloat)
		var b8 [8]byte
		binary.BigEndian.PutUint64(b8[:], floatBits(v.AsFloat()))
		buf.Write(b8[:])
	case value.KindString:
		buf.WriteByte(tagValueString)
		writeString(buf, v.AsString())
	default:
		// The wire format's constant pool only ever holds literal scalars
		// (§6); every other Kind is built at runtime via opcodes, never
		// stored as a constant, so this path is unreachable for bytecode a
		// conforming compiler produced.
		panic(fmt.Sprintf("bytecode: %s is not constant-pool serializable", v.Kind()))
	}
}

// Deserialize decodes a Bytecode previously produced by Serialize, applying
// every bound the spec's deserializer must enforce (§6, P8).
func Deserialize(data []byte) (*Bytecode, error) {
	r := &reader{buf: data}

	m, err := r.u32()
	if err != nil {
		return nil, err
	}
	if m != magic {
		return nil, ErrBadMagic
	}
	v, err := r.u32()
	if err != nil {
		return nil, err
	}
	if v > version {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrNewerVersion, v, version)
	}

	main, err := readChunk(r)
	if err != nil {
		return nil, err
	}

	fnCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	functions := make([]*Chunk, 0, fnCount)
	for i := uint32(0); i < fnCount; i++ {
		fn, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		functions = append(functions, fn)
	}

	strCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	strings := make([]string, 0, strCount)
	for i := uint32(0); i < strCount; i++ {
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		strings = append(strings, s)
	}

	toolCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	tools := make([]ToolMeta, 0, toolCount)
	for i := uint32(0); i < toolCount; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		desc, err := r.string()
		if err != nil {
			return nil, err
		}
		schema, err := r.string()
		if err != nil {
			return nil, err
		}
		ret, err := r.string()
		if err != nil {
			return nil, err
		}
		tools = append(tools, ToolMeta{Name: name, Description: desc, ParamSchema: schema, ReturnType: ret})
	}

	return &Bytecode{
		Main:      main,
		Functions: functions,
		Strings:   strings,
		Tools:     tools,
		interned:  value.NewInternTable(0),
		refcount:  1,
	}, nil
}

func readChunk(r *reader) (*Chunk, error) {
	codeSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	if codeSize > maxCodeSize {
		return nil, fmt.Errorf("%w: %d", ErrCodeTooLarge, codeSize)
	}
	code, err := r.bytes(int(codeSize))
	if err != nil {
		return nil, err
	}
	lines := make([]uint32, codeSize)
	for i := range lines {
		ln, err := r.u32()
		if err != nil {
			return nil, err
		}
		lines[i] = ln
	}
	constCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	if constCount > maxConstCount {
		return nil, fmt.Errorf("%w: %d", ErrTooManyConstants, constCount)
	}
	consts := make([]value.Value, 0, constCount)
	for i := uint32(0); i < constCount; i++ {
		v, err := readValue(r)
		if err != nil {
			return nil, err
		}
		consts = append(consts, v)
	}
	return &Chunk{Code: code, Lines: lines, Constants: consts}, nil
}

func readValue(r *reader) (value.Value, error) {
	tag, err := r.u8()
	if err != nil {
		return value.Nil, err
	}
	switch tag {
	case tagValueNil:
		return value.Nil, nil
	case tagValueBool:
		b, err := r.u8()
		if err != nil {
			return value.Nil, err
		}
		return value.Bool(b != 0), nil
	case tagValueInt:
		b, err := r.bytes(8)
		if err != nil {
			return value.Nil, err
		}
		return value.Int(int64(binary.BigEndian.Uint64(b))), nil
	case tagValueFloat:
		b, err := r.bytes(8)
		if err != nil {
			return value.Nil, err
		}
		return value.Float(bitsToFloat(binary.BigEndian.Uint64(b))), nil
	case tagValueString:
		s, err := r.string()
		if err != nil {
			return value.Nil, err
		}
		return value.NewString(s), nil
	default:
		return value.Nil, fmt.Errorf("%w: 0x%02x", ErrBadValueTag, tag)
	}
}

// reader is a bounds-checked cursor over a serialized buffer; every read
// verifies enough bytes remain before slicing, so a truncated or hostile
// length field never causes an out-of-range panic.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	v := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
