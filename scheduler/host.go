// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/probeum/blockrt/mailbox"
	"github.com/probeum/blockrt/value"
	"github.com/probeum/blockrt/vm"
)

// blockHost is the concrete vm.Host every spawned block's VM is constructed
// with: it closes over the owning Scheduler and the block's own PID, so
// each process-oriented opcode resolves back through the shared registry
// (§4.6 "back-pointers to the owning block and scheduler for I/O
// primitives"). This is the one place vm.Host gets implemented, keeping
// vm itself free of any block/scheduler import.
type blockHost struct {
	sched *Scheduler
	self  uint64
}

var _ vm.Host = (*blockHost)(nil)

func (h *blockHost) HasCapability(cap vm.Capability) bool {
	b, ok := h.sched.reg.Get(h.self)
	if !ok {
		return false
	}
	return b.HasCapability(cap)
}

func (h *blockHost) Self() uint64 { return h.self }

// Spawn starts a child block on the spawning block's Bytecode through
// SpawnEx. funcIndex is not used: the child always runs the main chunk, and
// args reach it as its first mailbox message.
func (h *blockHost) Spawn(funcIndex uint32, args []value.Value) (uint64, bool) {
	self, ok := h.sched.reg.Get(h.self)
	if !ok {
		return 0, false
	}
	child, err := h.sched.SpawnEx(self.Bytecode(), self.Capabilities(), self.Limits(), h.self, args)
	if err != nil {
		return 0, false
	}
	return child.PID(), true
}

func (h *blockHost) Send(to uint64, payload value.Value) error {
	return h.sched.Send(to, h.self, payload)
}

func (h *blockHost) TryReceive() (value.Value, bool) {
	b, ok := h.sched.reg.Get(h.self)
	if !ok {
		return value.Nil, false
	}
	msg, ok := b.Mailbox.Pop()
	if !ok {
		return value.Nil, false
	}
	return msg.Payload, true
}

// ReceiveMatch implements selective receive: tag is matched against a
// message's mailbox.Kind (the system-message discriminant §4.4 already
// carries — exit/down/upgrade/user), since the guest language's own
// pattern-matching over payload shapes belongs to a front-end compiler
// this runtime does not implement.
func (h *blockHost) ReceiveMatch(tag int64) (value.Value, bool) {
	b, ok := h.sched.reg.Get(h.self)
	if !ok {
		return value.Nil, false
	}
	want := mailbox.Kind(tag)
	msg, ok := b.Mailbox.PeekMatch(func(m mailbox.Message) bool { return m.Kind == want })
	if !ok {
		return value.Nil, false
	}
	return msg.Payload, true
}

// ArmReceiveTimeout schedules a logical wake-up (§4.6 "RECEIVE_TIMEOUT arms a
// logical timer evaluated when the block is next considered for wake-up"):
// it does not guarantee wall-clock precision, only that the block eventually
// becomes Runnable again once timeoutMs has elapsed, at which point the VM
// retries the same RECEIVE_TIMEOUT instruction (vm.rewindOp already restored
// the stack/ip to make that safe). The retry either finds mail or, finding
// none, arms another timer and waits again; no timeout value is ever pushed.
// A single timer per arm is enough: Wake is idempotent against a block that
// already left Waiting for any other reason.
func (h *blockHost) ArmReceiveTimeout(timeoutMs int64) {
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	pid := h.self
	sched := h.sched
	time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		if b, ok := sched.reg.Get(pid); ok {
			b.Wake()
			sched.enqueue(pid)
		}
	})
}

func (h *blockHost) Link(other uint64) {
	_ = h.sched.Link(h.self, other)
}

func (h *blockHost) Unlink(other uint64) {
	h.sched.Unlink(h.self, other)
}

func (h *blockHost) Monitor(other uint64) string {
	ref, err := h.sched.Monitor(h.self, other)
	if err != nil {
		return ""
	}
	return ref
}

func (h *blockHost) Demonitor(ref string) {
	h.sched.Demonitor(h.self, ref)
}

func newMonitorRef() uuid.UUID { return uuid.New() }

func parseMonitorRef(s string) (uuid.UUID, error) { return uuid.Parse(s) }
