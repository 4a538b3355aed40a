// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package module

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
)

func haltCode() *bytecode.Bytecode {
	code := bytecode.New()
	code.Main.AppendOp(bytecode.OpHalt, 1)
	return code
}

func TestLoadThenRegisterBlock(t *testing.T) {
	r := New()
	v := r.Load("chat_handler", haltCode(), -1)
	require.EqualValues(t, 1, v.Counter)
	require.NoError(t, r.RegisterBlock("chat_handler", 1))
	require.ErrorIs(t, r.RegisterBlock("nope", 1), ErrUnknownModule)
}

func TestTriggerUpgradeFlagsRegisteredBlocks(t *testing.T) {
	r := New()
	r.Load("chat_handler", haltCode(), -1)
	require.NoError(t, r.RegisterBlock("chat_handler", 1))

	b := block.New(1, haltCode(), 0, block.DefaultLimits(), 0, nil)
	lookup := func(pid uint64) (*block.Block, bool) {
		if pid == 1 {
			return b, true
		}
		return nil, false
	}

	newCode := haltCode()
	require.NoError(t, r.TriggerUpgrade("chat_handler", newCode, -1, lookup))
	require.True(t, b.PendingUpgrade())

	v, ok := r.CurrentVersion("chat_handler")
	require.True(t, ok)
	require.EqualValues(t, 2, v.Counter)

	require.NoError(t, r.ApplyUpgrade("chat_handler", b))
	require.False(t, b.PendingUpgrade())
}

func TestRollbackWithoutPriorUpgradeFails(t *testing.T) {
	r := New()
	r.Load("chat_handler", haltCode(), -1)
	err := r.Rollback("chat_handler", func(uint64) (*block.Block, bool) { return nil, false })
	require.ErrorIs(t, err, ErrNoPreviousVersion)
}

func TestRollbackRestoresPreviousVersion(t *testing.T) {
	r := New()
	r.Load("chat_handler", haltCode(), -1)
	require.NoError(t, r.RegisterBlock("chat_handler", 1))
	b := block.New(1, haltCode(), 0, block.DefaultLimits(), 0, nil)
	lookup := func(pid uint64) (*block.Block, bool) { return b, true }

	require.NoError(t, r.TriggerUpgrade("chat_handler", haltCode(), -1, lookup))
	v2, _ := r.CurrentVersion("chat_handler")
	require.EqualValues(t, 2, v2.Counter)

	require.NoError(t, r.Rollback("chat_handler", lookup))
	v1, _ := r.CurrentVersion("chat_handler")
	require.EqualValues(t, 1, v1.Counter)
}

func TestUnregisterBlockDropsAssociation(t *testing.T) {
	r := New()
	r.Load("chat_handler", haltCode(), -1)
	require.NoError(t, r.RegisterBlock("chat_handler", 1))
	r.UnregisterBlock("chat_handler", 1)

	b := block.New(1, haltCode(), 0, block.DefaultLimits(), 0, nil)
	lookup := func(pid uint64) (*block.Block, bool) { return b, true }
	require.NoError(t, r.TriggerUpgrade("chat_handler", haltCode(), -1, lookup))
	require.False(t, b.PendingUpgrade())
}
