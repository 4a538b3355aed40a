// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/value"
	"github.com/probeum/blockrt/vm"
)

func haltCode() *bytecode.Bytecode {
	code := bytecode.New()
	code.Main.AppendOp(bytecode.OpHalt, 1)
	return code
}

// receiveCode builds: RECEIVE; HALT — a block that waits for one message
// then halts with it on the stack.
func receiveCode() *bytecode.Bytecode {
	code := bytecode.New()
	code.Main.AppendOp(bytecode.OpReceive, 1)
	code.Main.AppendOp(bytecode.OpHalt, 1)
	return code
}

func TestSpawnRegistersARunnableBlock(t *testing.T) {
	s := New(DefaultConfig(), nil)
	b, err := s.Spawn(haltCode(), 0, block.DefaultLimits())
	require.NoError(t, err)
	require.Equal(t, block.Runnable, b.State())
	require.EqualValues(t, 1, s.BlockCount())
	got, ok := s.Registry().Get(b.PID())
	require.True(t, ok)
	require.Same(t, b, got)
}

func TestStepHaltsABlockAndRemovesItFromRegistry(t *testing.T) {
	s := New(DefaultConfig(), nil)
	b, _ := s.Spawn(haltCode(), 0, block.DefaultLimits())
	n := s.Step()
	require.Equal(t, 1, n)
	require.Equal(t, block.Dead, b.State())
	_, ok := s.Registry().Get(b.PID())
	require.False(t, ok)
	require.EqualValues(t, 0, s.BlockCount())
}

func TestSendDeliversAndWakesAWaitingBlock(t *testing.T) {
	s := New(DefaultConfig(), nil)
	b, err := s.Spawn(receiveCode(), vm.CapReceive, block.DefaultLimits())
	require.NoError(t, err)
	s.Step() // runs RECEIVE against an empty mailbox -> Waiting
	require.Equal(t, block.Waiting, b.State())

	require.NoError(t, s.Send(b.PID(), 0, value.Int(99)))
	require.Equal(t, block.Runnable, b.State())

	s.Step()
	require.Equal(t, block.Dead, b.State())
	require.True(t, b.ExitReason().Normal)
}

func TestSendToUnknownPIDFails(t *testing.T) {
	s := New(DefaultConfig(), nil)
	err := s.Send(12345, 0, value.Int(1))
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestSpawnRespectsMaxBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBlocks = 1
	s := New(cfg, nil)
	_, err := s.Spawn(haltCode(), 0, block.DefaultLimits())
	require.NoError(t, err)
	_, err = s.Spawn(haltCode(), 0, block.DefaultLimits())
	require.ErrorIs(t, err, ErrMaxBlocksReached)
}

func TestRegisterNameRejectsDuplicate(t *testing.T) {
	s := New(DefaultConfig(), nil)
	b, _ := s.Spawn(haltCode(), 0, block.DefaultLimits())
	require.NoError(t, s.RegisterName("worker-a", b.PID()))
	require.Error(t, s.RegisterName("worker-a", b.PID()+1))
	pid, ok := s.Whereis("worker-a")
	require.True(t, ok)
	require.Equal(t, b.PID(), pid)
}

func TestLinkPropagatesAbnormalExit(t *testing.T) {
	s := New(DefaultConfig(), nil)
	victim, _ := s.Spawn(receiveCode(), vm.CapReceive, block.DefaultLimits())
	// linked is itself parked on RECEIVE so it survives the first Step and
	// can only die via exit propagation, not its own halt.
	linked, _ := s.Spawn(receiveCode(), vm.CapReceive, block.DefaultLimits())
	require.NoError(t, s.Link(victim.PID(), linked.PID()))

	s.Step() // both RECEIVE against empty mailboxes -> Waiting
	s.Kill(victim.PID())

	require.Equal(t, block.Dead, linked.State())
	require.False(t, linked.ExitReason().Normal)
}

func TestTrapExitDeliversSystemMessageInsteadOfKilling(t *testing.T) {
	s := New(DefaultConfig(), nil)
	victim, _ := s.Spawn(receiveCode(), vm.CapReceive, block.DefaultLimits())
	watcher, _ := s.Spawn(receiveCode(), vm.CapReceive|vm.CapTrapExit, block.DefaultLimits())
	require.NoError(t, s.Link(victim.PID(), watcher.PID()))

	s.Step() // both RECEIVE against empty mailboxes -> Waiting
	s.Kill(victim.PID())

	// A trap-exit watcher is delivered a system exit-message rather than
	// being killed, which also wakes it back to Runnable.
	require.Equal(t, block.Runnable, watcher.State())
	require.EqualValues(t, 1, watcher.Mailbox.Length())
}

func TestMonitorDeliversDownMessage(t *testing.T) {
	s := New(DefaultConfig(), nil)
	target, _ := s.Spawn(receiveCode(), vm.CapReceive, block.DefaultLimits())
	watcher, _ := s.Spawn(receiveCode(), vm.CapReceive|vm.CapMonitor, block.DefaultLimits())
	ref, err := s.Monitor(watcher.PID(), target.PID())
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	s.Step()
	s.Kill(target.PID())

	require.EqualValues(t, 1, watcher.Mailbox.Length())
}
