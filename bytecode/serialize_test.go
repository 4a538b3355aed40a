// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"encoding/binary"
	"testing"

	"github.com/probeum/blockrt/value"
	"github.com/stretchr/testify/require"
)

func buildSample() *Bytecode {
	b := New()
	b.Main.AddConstant(value.Int(42))
	b.Main.AddConstant(value.NewString("hello"))
	b.Main.AppendOp(OpPushConst, 1)
	b.Main.AppendU16(0)
	b.Main.AppendOp(OpHalt, 1)

	fn := NewChunk()
	fn.AppendOp(OpReturn, 1)
	b.AddFunctionChunk(fn)

	b.AddString("greeting")
	b.RegisterTool(ToolMeta{Name: "lookup", Description: "d", ParamSchema: "{}", ReturnType: "string"})
	return b
}

func TestSerializeDeserializeRoundTrips(t *testing.T) {
	orig := buildSample()
	data := orig.Serialize()

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, orig.Main.Code, decoded.Main.Code)
	require.Equal(t, orig.Main.Lines, decoded.Main.Lines)
	require.Len(t, decoded.Main.Constants, 2)
	require.True(t, value.Equal(orig.Main.Constants[0], decoded.Main.Constants[0]))
	require.Equal(t, orig.Main.Constants[1].AsString(), decoded.Main.Constants[1].AsString())
	require.Equal(t, orig.Strings, decoded.Strings)
	require.Equal(t, orig.Tools, decoded.Tools)

	// P7: re-serializing a deserialized object yields a byte-identical buffer.
	require.Equal(t, data, decoded.Serialize())
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	data := buildSample().Serialize()
	data[0] ^= 0xFF
	_, err := Deserialize(data)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDeserializeRejectsNewerVersion(t *testing.T) {
	data := buildSample().Serialize()
	binary.BigEndian.PutUint32(data[4:], version+1)
	_, err := Deserialize(data)
	require.ErrorIs(t, err, ErrNewerVersion)
}

func TestDeserializeRejectsOversizedCodeSize(t *testing.T) {
	data := buildSample().Serialize()
	// The main chunk's code_size field sits right after the 8-byte header.
	binary.BigEndian.PutUint32(data[8:], maxCodeSize+1)
	_, err := Deserialize(data)
	require.ErrorIs(t, err, ErrCodeTooLarge)
}

func TestDeserializeRejectsTruncatedInput(t *testing.T) {
	data := buildSample().Serialize()
	_, err := Deserialize(data[:len(data)-3])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDeserializeRejectsCodeSizeExceedingBuffer(t *testing.T) {
	data := buildSample().Serialize()
	// Claim a code_size far bigger than what actually follows, but still
	// under the absolute cap, so it must be caught by the remaining-bytes
	// check rather than the cap check.
	binary.BigEndian.PutUint32(data[8:], uint32(len(data)))
	_, err := Deserialize(data)
	require.ErrorIs(t, err, ErrTruncated)
}
