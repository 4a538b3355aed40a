// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeum/blockrt/rtlog"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ran []uint64
}

func (d *recordingDispatcher) Dispatch(pid uint64) bool {
	d.mu.Lock()
	d.ran = append(d.ran, pid)
	d.mu.Unlock()
	return true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ran)
}

func TestWorkerRunsOwnQueue(t *testing.T) {
	w := New(0, false, rtlog.Discard())
	w.Enqueue(1)
	w.Enqueue(2)
	d := &recordingDispatcher{}
	go w.Run(d)
	require.Eventually(t, func() bool { return d.count() == 2 }, time.Second, time.Millisecond)
	w.Stop()
	<-w.Done()
}

func TestWorkerStealsFromPeerWhenIdle(t *testing.T) {
	a := New(0, true, rtlog.Discard())
	b := New(1, true, rtlog.Discard())
	a.SetPeers([]*Worker{a, b})
	b.SetPeers([]*Worker{a, b})

	b.Enqueue(42) // only b has work; a must steal it
	d := &recordingDispatcher{}
	go a.Run(d)
	go b.Run(d)
	require.Eventually(t, func() bool { return d.count() == 1 }, time.Second, time.Millisecond)
	a.Stop()
	b.Stop()
	<-a.Done()
	<-b.Done()
}

func TestWorkerStopDrainsRemainingQueue(t *testing.T) {
	w := New(0, false, rtlog.Discard())
	w.Enqueue(1)
	d := &recordingDispatcher{}
	done := make(chan struct{})
	go func() {
		w.Run(d)
		close(done)
	}()
	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	require.Equal(t, 1, d.count())
}
