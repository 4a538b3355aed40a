// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"testing"

	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/value"
	"github.com/stretchr/testify/require"
)

// ---- Bytecode builder helpers ----------------------------------------------

// buildMain constructs a Bytecode whose Main chunk is built by fn, with no
// capabilities required and a generous reduction quantum.
func buildMain(fn func(c *bytecode.Chunk)) *bytecode.Bytecode {
	code := bytecode.New()
	fn(code.Main)
	return code
}

func runToHalt(t *testing.T, v *VM) Status {
	t.Helper()
	status, err := v.Run()
	require.NoError(t, err)
	return status
}

// ---- Arithmetic / stack --------------------------------------------------

func TestAddHaltsWithResultOnStack(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		a := c.AddConstant(value.Int(10))
		b := c.AddConstant(value.Int(32))
		c.AppendOp(bytecode.OpPushConst, 1)
		c.AppendU16(a)
		c.AppendOp(bytecode.OpPushConst, 1)
		c.AppendU16(b)
		c.AppendOp(bytecode.OpAdd, 1)
		c.AppendOp(bytecode.OpHalt, 1)
	})
	v := New(code, nil, 1_000_000, 64)
	status := runToHalt(t, v)
	require.Equal(t, StatusHalt, status)
	require.Equal(t, int64(42), v.peekValue(0).AsInt())
}

func TestDivByZeroFaultsWithArithmeticKind(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		a := c.AddConstant(value.Int(1))
		b := c.AddConstant(value.Int(0))
		c.AppendOp(bytecode.OpPushConst, 1)
		c.AppendU16(a)
		c.AppendOp(bytecode.OpPushConst, 1)
		c.AppendU16(b)
		c.AppendOp(bytecode.OpDiv, 1)
		c.AppendOp(bytecode.OpHalt, 1)
	})
	v := New(code, nil, 1_000_000, 64)
	status, err := v.Run()
	require.Equal(t, StatusFault, status)
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, ErrKindArithmetic, f.Kind)
}

func TestReductionBudgetYields(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		c.AppendOp(bytecode.OpPushNil, 1)
		c.AppendOp(bytecode.OpPop, 1)
		c.AppendOp(bytecode.OpPushNil, 2)
		c.AppendOp(bytecode.OpPop, 2)
		c.AppendOp(bytecode.OpHalt, 3)
	})
	v := New(code, nil, 2, 64) // quantum of 2 reductions; each PUSH_NIL/POP costs 1
	status, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, StatusYield, status)
	require.Less(t, v.top().ip, len(code.Main.Code), "yield must leave ip inside the chunk for resumption")
}

// ---- Control flow: countdown loop ------------------------------------------

// TestCountdownLoop builds: local0 = 3; while local0 != 0 { local0 = local0 - 1 }; halt.
func TestCountdownLoop(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		three := c.AddConstant(value.Int(3))
		one := c.AddConstant(value.Int(1))
		zero := c.AddConstant(value.Int(0))

		c.AppendOp(bytecode.OpPushConst, 1) // stack: [3]
		c.AppendU16(three)
		c.AppendOp(bytecode.OpSetLocal, 1) // slot 1 holds the counter (slot 0 is the callee)
		c.AppendU8(1)

		loopStart := c.Len()
		c.AppendOp(bytecode.OpGetLocal, 2)
		c.AppendU8(1)
		c.AppendOp(bytecode.OpPushConst, 2)
		c.AppendU16(zero)
		c.AppendOp(bytecode.OpEq, 2)
		exitJump := c.ReserveJump(bytecode.OpJumpIf, 2)
		c.AppendOp(bytecode.OpPop, 2) // drop the (false) comparison result

		c.AppendOp(bytecode.OpGetLocal, 3)
		c.AppendU8(1)
		c.AppendOp(bytecode.OpPushConst, 3)
		c.AppendU16(one)
		c.AppendOp(bytecode.OpSub, 3)
		c.AppendOp(bytecode.OpSetLocal, 3)
		c.AppendU8(1)
		require.NoError(t, c.EmitLoop(loopStart, 3))

		require.NoError(t, c.PatchJump(exitJump))
		c.AppendOp(bytecode.OpPop, 4) // drop the (true) comparison result
		c.AppendOp(bytecode.OpGetLocal, 4)
		c.AppendU8(1)
		c.AppendOp(bytecode.OpHalt, 4)
	})
	v := New(code, nil, 1_000_000, 64)
	// Slot 0 (the callee) must exist for GET_LOCAL/SET_LOCAL's base-relative
	// addressing; the main frame has no caller-supplied callee, so seed a
	// placeholder.
	v.stack = append(v.stack, value.NilSlot)
	status := runToHalt(t, v)
	require.Equal(t, StatusHalt, status)
	require.Equal(t, int64(0), v.peekValue(0).AsInt())
}

// ---- Calls ------------------------------------------------------------------

func TestCallReturnPassesArityArguments(t *testing.T) {
	code := bytecode.New()
	addFn := bytecode.NewChunk()
	addFn.AppendOp(bytecode.OpGetLocal, 1) // slot 1 = first arg
	addFn.AppendU8(1)
	addFn.AppendOp(bytecode.OpGetLocal, 1) // slot 2 = second arg
	addFn.AppendU8(2)
	addFn.AppendOp(bytecode.OpAdd, 1)
	addFn.AppendOp(bytecode.OpReturn, 1)
	fnIdx := code.AddFunctionChunk(addFn)

	fnConst := code.Main.AddConstant(value.Func(uint32(fnIdx)))
	a := code.Main.AddConstant(value.Int(7))
	b := code.Main.AddConstant(value.Int(5))
	code.Main.AppendOp(bytecode.OpPushConst, 1)
	code.Main.AppendU16(fnConst)
	code.Main.AppendOp(bytecode.OpPushConst, 1)
	code.Main.AppendU16(a)
	code.Main.AppendOp(bytecode.OpPushConst, 1)
	code.Main.AppendU16(b)
	code.Main.AppendOp(bytecode.OpCall, 1)
	code.Main.AppendU8(2)
	code.Main.AppendOp(bytecode.OpHalt, 1)

	v := New(code, nil, 1_000_000, 64)
	status := runToHalt(t, v)
	require.Equal(t, StatusHalt, status)
	require.Equal(t, int64(12), v.peekValue(0).AsInt())
}

// ---- Process operations via a fake Host ------------------------------------

type fakeHost struct {
	caps        Capability
	self        uint64
	spawnedPID  uint64
	spawnOK     bool
	sent        []value.Value
	sendErr     error
	mailbox     []value.Value
	linked      []uint64
	monitorRef  string
}

func (h *fakeHost) HasCapability(cap Capability) bool { return h.caps&cap != 0 }
func (h *fakeHost) Self() uint64                      { return h.self }
func (h *fakeHost) Spawn(funcIndex uint32, args []value.Value) (uint64, bool) {
	return h.spawnedPID, h.spawnOK
}
func (h *fakeHost) Send(to uint64, payload value.Value) error {
	h.sent = append(h.sent, payload)
	return h.sendErr
}
func (h *fakeHost) TryReceive() (value.Value, bool) {
	if len(h.mailbox) == 0 {
		return value.Nil, false
	}
	v := h.mailbox[0]
	h.mailbox = h.mailbox[1:]
	return v, true
}
func (h *fakeHost) ReceiveMatch(tag int64) (value.Value, bool) { return value.Nil, false }
func (h *fakeHost) ArmReceiveTimeout(timeoutMs int64)          {}
func (h *fakeHost) Link(other uint64)                          { h.linked = append(h.linked, other) }
func (h *fakeHost) Unlink(other uint64)                        {}
func (h *fakeHost) Monitor(other uint64) string                { return h.monitorRef }
func (h *fakeHost) Demonitor(ref string)                       {}

func TestSpawnWithoutCapabilityFaults(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		c.AppendOp(bytecode.OpArrayNew, 1)
		c.AppendU16(0)
		c.AppendOp(bytecode.OpSpawn, 1)
		c.AppendU16(0)
	})
	host := &fakeHost{}
	v := New(code, host, 1_000_000, 64)
	status, err := v.Run()
	require.Equal(t, StatusFault, status)
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, ErrKindCapability, f.Kind)
}

func TestSpawnReturnsPidFromHost(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		c.AppendOp(bytecode.OpArrayNew, 1)
		c.AppendU16(0)
		c.AppendOp(bytecode.OpSpawn, 1)
		c.AppendU16(0)
		c.AppendOp(bytecode.OpHalt, 1)
	})
	host := &fakeHost{caps: CapSpawn, spawnedPID: 7, spawnOK: true}
	v := New(code, host, 1_000_000, 64)
	status := runToHalt(t, v)
	require.Equal(t, StatusHalt, status)
	require.Equal(t, uint64(7), v.peekValue(0).AsPid())
}

func TestReceiveWithEmptyMailboxWaits(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		c.AppendOp(bytecode.OpReceive, 1)
	})
	host := &fakeHost{caps: CapReceive}
	v := New(code, host, 1_000_000, 64)
	status, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, status)
}

func TestSendDeepCopiesPayloadAcrossMailboxBoundary(t *testing.T) {
	code := buildMain(func(c *bytecode.Chunk) {
		pidConst := c.AddConstant(value.Pid(3))
		strConst := c.AddConstant(value.NewString("hi"))
		c.AppendOp(bytecode.OpPushConst, 1)
		c.AppendU16(pidConst)
		c.AppendOp(bytecode.OpPushConst, 1)
		c.AppendU16(strConst)
		c.AppendOp(bytecode.OpSend, 1)
		c.AppendOp(bytecode.OpHalt, 1)
	})
	host := &fakeHost{caps: CapSend}
	v := New(code, host, 1_000_000, 64)
	status := runToHalt(t, v)
	require.Equal(t, StatusHalt, status)
	require.Len(t, host.sent, 1)
	require.Equal(t, "hi", host.sent[0].AsString())
}
