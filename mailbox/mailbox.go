// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package mailbox implements the multi-producer/single-consumer message
// queue attached to every block (§4.4).
package mailbox

import (
	"sync/atomic"

	"github.com/probeum/blockrt/internal/lock"
	"github.com/probeum/blockrt/value"
)

// Kind tags a message as an ordinary user message or one of the system
// notifications delivered on link/monitor/upgrade events (§3 "Block").
type Kind uint8

const (
	KindUser Kind = iota
	KindExit
	KindDown
	KindUpgrade
)

// Message is one mailbox entry.
type Message struct {
	Sender  uint64
	Payload value.Value
	Kind    Kind
}

// Mailbox is an ordered FIFO of Messages. Any number of goroutines may Push
// concurrently; only the owning worker, while executing the owning block,
// may Pop or PeekMatch (§4.4, §5 "Mailboxes are MPSC").
type Mailbox struct {
	mu       lock.Mutex
	messages []Message
	capacity int // 0 means unbounded
	length   int32
}

// New returns an empty mailbox. capacity <= 0 means unbounded.
func New(capacity int) *Mailbox {
	return &Mailbox{capacity: capacity}
}

// Push enqueues a message, returning false if it was rejected because the
// mailbox is at capacity (§4.5 "mailbox push beyond max_mailbox_size
// rejects"). Per-sender order is preserved because Push only ever appends,
// and the mutex serializes concurrent producers without reordering them
// relative to themselves.
func (m *Mailbox) Push(msg Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacity > 0 && len(m.messages) >= m.capacity {
		return false
	}
	m.messages = append(m.messages, msg)
	atomic.AddInt32(&m.length, 1)
	return true
}

// Pop removes and returns the oldest message, if any.
func (m *Mailbox) Pop() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return Message{}, false
	}
	msg := m.messages[0]
	m.messages = m.messages[1:]
	atomic.AddInt32(&m.length, -1)
	return msg, true
}

// PeekMatch scans in arrival order and removes the first message for which
// pred returns true, preserving the relative order of the rest (selective
// receive, §4.4, scenario 5).
func (m *Mailbox) PeekMatch(pred func(Message) bool) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.messages {
		if pred(msg) {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			atomic.AddInt32(&m.length, -1)
			return msg, true
		}
	}
	return Message{}, false
}

// Length is a best-effort count of pending messages (§4.4).
func (m *Mailbox) Length() int {
	return int(atomic.LoadInt32(&m.length))
}

// Drain removes and returns every pending message, used when a block enters
// Dead (§4.5 "a Dead block has its mailbox drained").
func (m *Mailbox) Drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.messages
	m.messages = nil
	atomic.StoreInt32(&m.length, 0)
	return drained
}
