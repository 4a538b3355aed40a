// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package block implements Block, the scheduled unit of execution: a PID,
// an optional name, a VM instance, a mailbox, link/monitor state, a
// capability mask, resource limits, and a lifecycle state machine (§4.5).
//
// block imports vm but not scheduler: a Block knows how to run its own VM
// and how to record link/monitor bookkeeping, but routing a SEND/SPAWN to
// another block, or deciding when a Runnable block gets dispatched, is the
// scheduler's job. That keeps block -> vm a one-way edge, matching vm's own
// Host-interface seam.
package block

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/mailbox"
	"github.com/probeum/blockrt/value"
	"github.com/probeum/blockrt/vm"
)

// State is a Block's lifecycle state (§4.5 state machine).
type State int

const (
	Runnable State = iota
	Running
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// ExitReason records why a block entered Dead, distinguishing a normal
// return from an abnormal one for exit-propagation purposes (§4.5 "abnormal
// exits kill the target; normal exits do not").
type ExitReason struct {
	Normal bool
	Fault  *vm.Fault // nil on a normal exit
}

// MonitorRef is "target PID + reference id" (§3 "Block").
type MonitorRef struct {
	Target uint64
	Ref    uuid.UUID
}

// Limits bounds one block's resource consumption (§3 "Block"
// resource-limit struct).
type Limits struct {
	MaxHeapBytes    int64
	MaxStackDepth   int
	MaxCallDepth    int
	ReductionQuantum uint64
	MaxMailboxSize  int
}

// DefaultLimits mirrors the teacher's conservative defaults for an
// unconfigured VM instance: generous enough not to trip on ordinary
// programs, tight enough to bound a runaway one.
func DefaultLimits() Limits {
	return Limits{
		MaxHeapBytes:     64 << 20,
		MaxStackDepth:    1 << 16,
		MaxCallDepth:     1024,
		ReductionQuantum: 4000,
		MaxMailboxSize:   10000,
	}
}

// Counters tracks a block's lifetime activity (§3 "Block" counters).
type Counters struct {
	Reductions      uint64
	MessagesSent    uint64
	MessagesReceived uint64
	GCCycles        uint64
}

// Block is one scheduled unit: a PID, optional name, VM, mailbox, and the
// link/monitor/capability/limit bookkeeping around it.
type Block struct {
	mu sync.Mutex

	pid  uint64
	name string // empty if unnamed

	vm      *vm.VM
	code    *bytecode.Bytecode
	Mailbox *mailbox.Mailbox

	links    mapset.Set[uint64]
	monitors []MonitorRef // refs this block holds on other blocks
	watchers []MonitorRef // refs other blocks hold on this one

	caps   vm.Capability
	limits Limits
	counters Counters

	parent uint64
	state  State

	pendingUpgrade bool
	exitReason     ExitReason
}

// New constructs a Runnable block. host wires the VM's process-oriented
// opcodes back to whatever scheduler owns this block (§4.6's "back-pointers
// to the owning block and scheduler"); a Block never constructs its own
// Host, since doing so would require importing scheduler.
func New(pid uint64, code *bytecode.Bytecode, caps vm.Capability, limits Limits, parent uint64, host vm.Host) *Block {
	code.Retain()
	b := &Block{
		pid:     pid,
		vm:      vm.New(code, host, limits.ReductionQuantum, limits.MaxCallDepth),
		code:    code,
		Mailbox: mailbox.New(limits.MaxMailboxSize),
		links:   mapset.NewSet[uint64](),
		caps:    caps,
		limits:  limits,
		parent:  parent,
		state:   Runnable,
	}
	return b
}

func (b *Block) PID() uint64 { return b.pid }
func (b *Block) Parent() uint64 { return b.parent }
func (b *Block) VM() *vm.VM { return b.vm }
func (b *Block) Capabilities() vm.Capability { return b.caps }
func (b *Block) Limits() Limits { return b.limits }

func (b *Block) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// SetName is called once by the registry after a successful named-table
// insert; it never fails on the Block's side (duplicate rejection is the
// named-process table's job, §3 "Named-process table").
func (b *Block) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

func (b *Block) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Block) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Counters returns a snapshot of this block's activity counters.
func (b *Block) Counters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// ExitReason reports why a Dead block died; zero value on a still-live
// block.
func (b *Block) ExitReason() ExitReason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitReason
}

// SetPendingUpgrade records the flag on the block and mirrors it down to the
// VM (§4.10); neither the block nor the VM acts on it during Dispatch.
func (b *Block) SetPendingUpgrade(pending bool) {
	b.mu.Lock()
	b.pendingUpgrade = pending
	b.mu.Unlock()
	b.vm.SetPendingUpgrade(pending)
}

func (b *Block) PendingUpgrade() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pendingUpgrade
}

// Dispatch transitions Runnable -> Running, runs the VM until it yields,
// waits, halts, or faults, and applies the corresponding state transition
// (§4.5 state machine). It returns the VM's Status so the scheduler knows
// whether to re-enqueue, park, or begin exit propagation.
func (b *Block) Dispatch() (vm.Status, error) {
	b.setState(Running)
	status, err := b.vm.Run()
	b.mu.Lock()
	b.counters.Reductions = b.vm.Reductions()
	b.mu.Unlock()

	switch status {
	case vm.StatusYield:
		b.setState(Runnable)
	case vm.StatusWaiting:
		b.setState(Waiting)
	case vm.StatusHalt:
		b.die(ExitReason{Normal: true})
	case vm.StatusFault:
		var f *vm.Fault
		if asFault, ok := err.(*vm.Fault); ok {
			f = asFault
		}
		b.die(ExitReason{Normal: false, Fault: f})
	}
	return status, err
}

// Wake transitions a Waiting block back to Runnable, e.g. after a message
// arrives or a receive timeout fires.
func (b *Block) Wake() {
	b.mu.Lock()
	if b.state == Waiting {
		b.state = Runnable
	}
	b.mu.Unlock()
}

// die transitions to Dead, draining the mailbox (§4.5 "a Dead block has its
// mailbox drained"). Link/monitor notification is the scheduler's job,
// since it requires looking up and signalling other blocks; die only
// records local state and returns the data the scheduler needs to act on.
func (b *Block) die(reason ExitReason) {
	b.mu.Lock()
	if b.state == Dead {
		b.mu.Unlock()
		return
	}
	b.state = Dead
	b.exitReason = reason
	b.mu.Unlock()
	b.Mailbox.Drain()
	b.code.Release()
}

// Kill forces a block to Dead from any non-Dead state, used by explicit
// kill(pid) and by exit propagation from a non-trapping linked partner
// (§4.5 "Waiting --kill/exit-signal--> Dead").
func (b *Block) Kill(reason ExitReason) {
	b.die(reason)
}

// Links returns the linked-PID set. Link(self, other) is the Block-local
// half of block_link: it inserts idempotently (§4.5); the scheduler is
// responsible for calling it on both ends to establish bidirectionality.
func (b *Block) Links() mapset.Set[uint64] { return b.links }

func (b *Block) Link(other uint64) {
	b.links.Add(other)
}

func (b *Block) Unlink(other uint64) {
	b.links.Remove(other)
}

// AddMonitor records a reference this block holds on target (this block is
// the watcher). RemoveMonitor cancels it by ref.
func (b *Block) AddMonitor(ref MonitorRef) {
	b.mu.Lock()
	b.monitors = append(b.monitors, ref)
	b.mu.Unlock()
}

func (b *Block) RemoveMonitor(ref uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.monitors {
		if m.Ref == ref {
			b.monitors = append(b.monitors[:i], b.monitors[i+1:]...)
			return
		}
	}
}

// AddWatcher records that another block is monitoring this one; used when
// this block dies to know who to notify with a down-message.
func (b *Block) AddWatcher(ref MonitorRef) {
	b.mu.Lock()
	b.watchers = append(b.watchers, ref)
	b.mu.Unlock()
}

func (b *Block) RemoveWatcher(ref uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.watchers {
		if w.Ref == ref {
			b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
			return
		}
	}
}

// Watchers snapshots the set of monitor refs held on this block, used on
// death to deliver down-messages (§4.5 "each monitoring PID: deliver a
// down-message").
func (b *Block) Watchers() []MonitorRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MonitorRef, len(b.watchers))
	copy(out, b.watchers)
	return out
}

// Deliver pushes an incoming message into this block's mailbox and, if the
// block was Waiting, wakes it. Returns false if the mailbox rejected the
// push (over capacity, §4.5 resource limits).
func (b *Block) Deliver(msg mailbox.Message) bool {
	if !b.Mailbox.Push(msg) {
		return false
	}
	b.mu.Lock()
	b.counters.MessagesReceived++
	b.mu.Unlock()
	b.Wake()
	return true
}

// RecordSend increments the sent-message counter; called by the scheduler
// once a SEND opcode successfully enqueues into the target's mailbox.
func (b *Block) RecordSend() {
	b.mu.Lock()
	b.counters.MessagesSent++
	b.mu.Unlock()
}

// HasCapability reports whether this block's mask includes cap (§4.5
// "Capability bitmask controls which sensitive opcodes may execute").
func (b *Block) HasCapability(cap vm.Capability) bool {
	return b.caps&cap != 0
}

// TrapExit reports whether this block wants system exit-messages instead of
// being killed when a linked partner exits abnormally (§4.5).
func (b *Block) TrapExit() bool {
	return b.HasCapability(vm.CapTrapExit)
}

// Globals exposes the VM's globals map, used by CheckpointManager to
// externalize state (§4.11).
func (b *Block) Globals() map[string]value.Value { return b.vm.Globals() }

// RestoreGlobals copies restored into this (freshly constructed) block's
// globals map, used by CheckpointManager.RestoreScaffold immediately after
// New to re-populate the scaffold's state (§4.11).
func (b *Block) RestoreGlobals(restored map[string]value.Value) {
	g := b.vm.Globals()
	for k, v := range restored {
		g[k] = v
	}
}

// Bytecode returns the bytecode pointer this block is executing.
func (b *Block) Bytecode() *bytecode.Bytecode { return b.code }
