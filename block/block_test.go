// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/mailbox"
	"github.com/probeum/blockrt/value"
	"github.com/probeum/blockrt/vm"
)

func haltCode() *bytecode.Bytecode {
	code := bytecode.New()
	code.Main.AppendOp(bytecode.OpHalt, 1)
	return code
}

func TestNewBlockStartsRunnable(t *testing.T) {
	b := New(1, haltCode(), 0, DefaultLimits(), 0, nil)
	require.Equal(t, Runnable, b.State())
	require.Equal(t, uint64(1), b.PID())
}

func TestDispatchHaltTransitionsToDeadNormally(t *testing.T) {
	b := New(1, haltCode(), 0, DefaultLimits(), 0, nil)
	status, err := b.Dispatch()
	require.NoError(t, err)
	require.Equal(t, vm.StatusHalt, status)
	require.Equal(t, Dead, b.State())
	require.True(t, b.ExitReason().Normal)
}

func TestDispatchFaultTransitionsToDeadAbnormally(t *testing.T) {
	code := bytecode.New()
	a := code.Main.AddConstant(value.Int(1))
	code.Main.AppendOp(bytecode.OpPushConst, 1)
	code.Main.AppendU16(a)
	code.Main.AppendOp(bytecode.OpPop, 1)
	code.Main.AppendOp(bytecode.OpPop, 1) // underflow: fault
	b := New(1, code, 0, DefaultLimits(), 0, nil)
	status, err := b.Dispatch()
	require.Error(t, err)
	require.Equal(t, vm.StatusFault, status)
	require.Equal(t, Dead, b.State())
	require.False(t, b.ExitReason().Normal)
}

func TestDispatchYieldStaysRunnable(t *testing.T) {
	code := bytecode.New()
	code.Main.AppendOp(bytecode.OpPushNil, 1)
	code.Main.AppendOp(bytecode.OpPop, 1)
	code.Main.AppendOp(bytecode.OpHalt, 2)
	limits := DefaultLimits()
	limits.ReductionQuantum = 1
	b := New(1, code, 0, limits, 0, nil)
	status, err := b.Dispatch()
	require.NoError(t, err)
	require.Equal(t, vm.StatusYield, status)
	require.Equal(t, Runnable, b.State())
}

func TestLinkIsIdempotent(t *testing.T) {
	b := New(1, haltCode(), 0, DefaultLimits(), 0, nil)
	b.Link(2)
	b.Link(2)
	require.Equal(t, 1, b.Links().Cardinality())
	b.Unlink(2)
	require.Equal(t, 0, b.Links().Cardinality())
}

func TestDeliverWakesAWaitingBlock(t *testing.T) {
	b := New(1, haltCode(), 0, DefaultLimits(), 0, nil)
	b.setState(Waiting)
	ok := b.Deliver(mailbox.Message{Sender: 2, Payload: value.Int(1)})
	require.True(t, ok)
	require.Equal(t, Runnable, b.State())
	require.Equal(t, uint64(1), b.Counters().MessagesReceived)
}

func TestDeliverOverCapacityRejects(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxMailboxSize = 1
	b := New(1, haltCode(), 0, limits, 0, nil)
	require.True(t, b.Deliver(mailbox.Message{Sender: 2, Payload: value.Int(1)}))
	require.False(t, b.Deliver(mailbox.Message{Sender: 2, Payload: value.Int(1)}))
}

func TestHasCapability(t *testing.T) {
	b := New(1, haltCode(), vm.CapSpawn, DefaultLimits(), 0, nil)
	require.True(t, b.HasCapability(vm.CapSpawn))
	require.False(t, b.HasCapability(vm.CapSend))
}
