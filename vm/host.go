// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import "github.com/probeum/blockrt/value"

// Capability is a bit in a block's permission mask gating sensitive opcodes
// (§4.5).
type Capability uint32

const (
	CapSpawn Capability = 1 << iota
	CapSend
	CapReceive
	CapFileRead
	CapFileWrite
	CapShell
	CapExec
	CapInference
	CapDB
	CapTrapExit
	CapMonitor
	CapSupervise
	// CapUnsafePrimitives gates native crypto/FFI-style opcodes (OP_SHA3);
	// distinct from the guest-language capabilities above since it concerns
	// the host runtime's own primitives rather than block-to-block actions.
	CapUnsafePrimitives
)

// Host is everything the VM needs from its owning block/scheduler to
// execute the process-oriented opcodes (SPAWN, SEND, RECEIVE, LINK,
// MONITOR, ...). The VM package itself knows nothing about Block or
// Scheduler types; a concrete Host is wired in by whichever package
// constructs the VM (avoiding an import cycle between vm and block).
type Host interface {
	// HasCapability reports whether the executing block holds cap.
	HasCapability(cap Capability) bool

	// Self returns the executing block's own PID.
	Self() uint64

	// Spawn allocates a new block from the same Bytecode, passing the
	// SPAWN operand funcIndex and args along, returning its PID or false if
	// the scheduler refused (e.g. max_blocks reached). The scheduler's
	// implementation ignores funcIndex and runs the main chunk.
	Spawn(funcIndex uint32, args []value.Value) (uint64, bool)

	// Send enqueues payload in the target block's mailbox. Returns an error
	// kind when the target does not exist or its mailbox is full.
	Send(to uint64, payload value.Value) error

	// TryReceive attempts to dequeue the oldest mailbox message without
	// blocking. ok is false if the mailbox is currently empty, in which
	// case the VM must suspend with StatusWaiting.
	TryReceive() (value.Value, bool)

	// ReceiveMatch dequeues the first pending message whose tag equals tag,
	// for selective receive; no opcode in this package calls it.
	ReceiveMatch(tag int64) (value.Value, bool)

	// ArmReceiveTimeout schedules a wake-up after timeoutMs milliseconds if
	// no message arrives first.
	ArmReceiveTimeout(timeoutMs int64)

	// Link/Unlink mutate the link set of both Self() and other.
	Link(other uint64)
	Unlink(other uint64)

	// Monitor establishes a unidirectional death watch on other, returning
	// a reference id; Demonitor cancels it.
	Monitor(other uint64) string
	Demonitor(ref string)
}
