// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package mailbox

import (
	"sync"
	"testing"

	"github.com/probeum/blockrt/value"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	mb := New(0)
	require.True(t, mb.Push(Message{Sender: 1, Payload: value.Int(1)}))
	require.True(t, mb.Push(Message{Sender: 1, Payload: value.Int(2)}))

	m, ok := mb.Pop()
	require.True(t, ok)
	require.Equal(t, int64(1), m.Payload.AsInt())

	m, ok = mb.Pop()
	require.True(t, ok)
	require.Equal(t, int64(2), m.Payload.AsInt())

	_, ok = mb.Pop()
	require.False(t, ok)
}

func TestPushRejectsOverCapacity(t *testing.T) {
	mb := New(1)
	require.True(t, mb.Push(Message{Sender: 1}))
	require.False(t, mb.Push(Message{Sender: 1}))
	require.Equal(t, 1, mb.Length())
}

func TestPerSenderFIFOUnderConcurrentProducers(t *testing.T) {
	mb := New(0)
	const perSender = 200
	var wg sync.WaitGroup
	for sender := uint64(1); sender <= 4; sender++ {
		wg.Add(1)
		go func(sender uint64) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				mb.Push(Message{Sender: sender, Payload: value.Int(int64(i))})
			}
		}(sender)
	}
	wg.Wait()

	lastSeen := map[uint64]int64{1: -1, 2: -1, 3: -1, 4: -1}
	for {
		m, ok := mb.Pop()
		if !ok {
			break
		}
		require.Greater(t, m.Payload.AsInt(), lastSeen[m.Sender])
		lastSeen[m.Sender] = m.Payload.AsInt()
	}
	for sender, last := range lastSeen {
		require.EqualValues(t, perSender-1, last, "sender %d", sender)
	}
}

func TestPeekMatchPreservesOrderOfUnmatched(t *testing.T) {
	mb := New(0)
	mb.Push(Message{Payload: value.Int(1)})
	mb.Push(Message{Payload: value.Int(2)})
	mb.Push(Message{Payload: value.Int(3)})

	matched, ok := mb.PeekMatch(func(m Message) bool { return m.Payload.AsInt() == 2 })
	require.True(t, ok)
	require.Equal(t, int64(2), matched.Payload.AsInt())

	first, _ := mb.Pop()
	second, _ := mb.Pop()
	require.Equal(t, int64(1), first.Payload.AsInt())
	require.Equal(t, int64(3), second.Payload.AsInt())
}

func TestDrainEmptiesMailbox(t *testing.T) {
	mb := New(0)
	mb.Push(Message{Payload: value.Int(1)})
	mb.Push(Message{Payload: value.Int(2)})
	drained := mb.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, 0, mb.Length())
}
