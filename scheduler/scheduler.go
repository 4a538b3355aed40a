// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package scheduler ties together block, registry, and worker into the
// runtime's single entry point (§4.9): it owns the shared registries, hands
// out PIDs, and is the concrete vm.Host every block's VM calls into for
// SPAWN/SEND/RECEIVE/LINK/MONITOR (§4.6 "back-pointers to the owning block
// and scheduler for I/O primitives").
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/probeum/blockrt/block"
	"github.com/probeum/blockrt/bytecode"
	"github.com/probeum/blockrt/mailbox"
	"github.com/probeum/blockrt/registry"
	"github.com/probeum/blockrt/rtlog"
	"github.com/probeum/blockrt/value"
	"github.com/probeum/blockrt/vm"
	"github.com/probeum/blockrt/worker"
)

// Config configures a Scheduler. NumWorkers, MaxBlocks, DefaultReductions,
// and EnableStealing are the spec's own four knobs (§6). The two
// MaxInlineCacheShapes/InternTableSize fields are carried but not read by
// the scheduler or any other package.
type Config struct {
	NumWorkers        int
	MaxBlocks         int
	DefaultReductions uint64
	EnableStealing    bool

	MaxInlineCacheShapes int
	InternTableSize      int
}

// DefaultConfig matches the teacher's habit of a conservative single-node
// default: one worker per the calling goroutine (NumWorkers == 0 runs the
// scheduler's own synchronous step loop, useful for tests and embedders
// that don't want background goroutines).
func DefaultConfig() Config {
	return Config{
		NumWorkers:        0,
		MaxBlocks:         1 << 20,
		DefaultReductions: 4000,
		EnableStealing:    true,
	}
}

var (
	// ErrMaxBlocksReached is returned by Spawn when the configured block
	// cap has already been reached.
	ErrMaxBlocksReached = errors.New("scheduler: max blocks reached")
	// ErrBlockNotFound is returned by Send/Kill/Link-style operations
	// targeting a PID with no registered block.
	ErrBlockNotFound = errors.New("scheduler: block not found")
	// ErrMailboxFull is returned by Send when the target's mailbox is at
	// capacity (§4.4 "overflow is reported to the sender").
	ErrMailboxFull = errors.New("scheduler: mailbox full")
)

// Scheduler is the runtime's top-level object: one per embedded VM process.
type Scheduler struct {
	cfg Config
	log rtlog.Logger

	reg    *registry.Registry
	names  *registry.NamedTable
	groups *registry.GroupRegistry

	workers []*worker.Worker

	blockCount int64 // atomic

	stopOnce sync.Once
	running  bool
	runMu    sync.Mutex
}

// New constructs a Scheduler with cfg's tuning, ready for Spawn/Run. log may
// be nil, in which case a discarding logger is used (matching rtlog's
// discard-on-nil-Logger convention elsewhere in this module).
func New(cfg Config, log rtlog.Logger) *Scheduler {
	if log == nil {
		log = rtlog.Discard()
	}
	s := &Scheduler{
		cfg:    cfg,
		log:    log,
		reg:    registry.New(),
		names:  registry.NewNamedTable(),
		groups: registry.NewGroupRegistry(),
	}
	n := cfg.NumWorkers
	if n > 0 {
		s.workers = make([]*worker.Worker, n)
		for i := range s.workers {
			s.workers[i] = worker.New(i, cfg.EnableStealing, log.New("worker", i))
		}
		for _, w := range s.workers {
			w.SetPeers(s.workers)
		}
	}
	return s
}

// Registry, Names, Groups expose the underlying tables for callers (e.g.
// CheckpointManager, tests) that need direct access beyond the spawn/send
// surface.
func (s *Scheduler) Registry() *registry.Registry    { return s.reg }
func (s *Scheduler) Names() *registry.NamedTable     { return s.names }
func (s *Scheduler) Groups() *registry.GroupRegistry { return s.groups }

// BlockCount returns the number of currently registered (non-Dead, not yet
// garbage-collected-from-the-registry) blocks.
func (s *Scheduler) BlockCount() int64 { return atomic.LoadInt64(&s.blockCount) }

// ---- spawn ------------------------------------------------------------------

// Spawn allocates and registers a new block running code's main chunk with
// caps and limits, with no parent (a root block). SpawnEx is the
// fuller-featured form process ops (SPAWN) call into to start a child.
func (s *Scheduler) Spawn(code *bytecode.Bytecode, caps vm.Capability, limits block.Limits) (*block.Block, error) {
	return s.SpawnEx(code, caps, limits, 0, nil)
}

// SpawnEx is §4.6 SPAWN's entry point: allocate a block from the same
// Bytecode the spawning block runs, with parent recorded for supervision
// and args delivered as the new block's first mailbox message so its main
// chunk can RECEIVE them (the teacher's probe-lang has no "call with
// args on spawn" opcode pairing, so this module follows Erlang's own
// convention of delivering spawn args as the first message rather than
// inventing a bespoke calling convention).
func (s *Scheduler) SpawnEx(code *bytecode.Bytecode, caps vm.Capability, limits block.Limits, parent uint64, args []value.Value) (*block.Block, error) {
	if s.cfg.MaxBlocks > 0 && int(atomic.LoadInt64(&s.blockCount)) >= s.cfg.MaxBlocks {
		return nil, ErrMaxBlocksReached
	}
	pid := s.reg.NextPID()
	host := &blockHost{sched: s, self: pid}
	b := block.New(pid, code, caps, limits, parent, host)
	s.reg.Insert(b)
	atomic.AddInt64(&s.blockCount, 1)
	if len(args) > 0 {
		argsVal := value.NewArray(args)
		b.Deliver(mailbox.Message{Sender: parent, Payload: argsVal, Kind: mailbox.KindUser})
	}
	s.enqueue(pid)
	return b, nil
}

// enqueue places pid on a worker's queue (round-robin over s.workers) or,
// with NumWorkers == 0, does nothing: Step()/Run() in that mode scan the
// registry directly instead of consulting worker queues.
func (s *Scheduler) enqueue(pid uint64) {
	if len(s.workers) == 0 {
		return
	}
	s.workers[int(pid)%len(s.workers)].Enqueue(pid)
}

// ---- send / named send -----------------------------------------------------

// Send delivers payload to to's mailbox, deep-copying is the caller's
// responsibility (process_ops.go's SEND handler already deep-copies before
// calling vm.Host.Send, which routes here; direct embedder callers should
// do the same if they want mailbox isolation).
func (s *Scheduler) Send(to uint64, sender uint64, payload value.Value) error {
	b, ok := s.reg.Get(to)
	if !ok {
		return ErrBlockNotFound
	}
	if !b.Deliver(mailbox.Message{Sender: sender, Payload: payload, Kind: mailbox.KindUser}) {
		return ErrMailboxFull
	}
	s.enqueue(to)
	if from, ok := s.reg.Get(sender); ok {
		from.RecordSend()
	}
	return nil
}

// SendNamed resolves name via the named-process table before sending.
func (s *Scheduler) SendNamed(name string, sender uint64, payload value.Value) error {
	pid, ok := s.names.Whereis(name)
	if !ok {
		return ErrBlockNotFound
	}
	return s.Send(pid, sender, payload)
}

// ---- naming / groups --------------------------------------------------------

func (s *Scheduler) RegisterName(name string, pid uint64) error {
	return s.names.Register(name, pid)
}

func (s *Scheduler) UnregisterName(name string) { s.names.Unregister(name) }

func (s *Scheduler) Whereis(name string) (uint64, bool) { return s.names.Whereis(name) }

func (s *Scheduler) JoinGroup(group string, pid uint64) { s.groups.Join(group, pid) }
func (s *Scheduler) LeaveGroup(group string, pid uint64) { s.groups.Leave(group, pid) }
func (s *Scheduler) GroupMembers(group string) []uint64 { return s.groups.Members(group) }

// ---- link / monitor (the scheduler side of §4.5 block_link/monitor) -------

// Link establishes a bidirectional link between a and b, idempotently on
// each side (§4.5 "caller is expected to also link the reverse direction").
func (s *Scheduler) Link(a, b uint64) error {
	ba, ok := s.reg.Get(a)
	if !ok {
		return ErrBlockNotFound
	}
	bb, ok := s.reg.Get(b)
	if !ok {
		return ErrBlockNotFound
	}
	ba.Link(b)
	bb.Link(a)
	return nil
}

func (s *Scheduler) Unlink(a, b uint64) {
	if ba, ok := s.reg.Get(a); ok {
		ba.Unlink(b)
	}
	if bb, ok := s.reg.Get(b); ok {
		bb.Unlink(a)
	}
}

// Monitor establishes a unidirectional death watch: watcher will receive a
// down-message when target dies. Returns the reference id.
func (s *Scheduler) Monitor(watcher, target uint64) (string, error) {
	targetBlock, ok := s.reg.Get(target)
	if !ok {
		return "", ErrBlockNotFound
	}
	ref := newMonitorRef()
	targetBlock.AddWatcher(block.MonitorRef{Target: watcher, Ref: ref})
	if w, ok := s.reg.Get(watcher); ok {
		w.AddMonitor(block.MonitorRef{Target: target, Ref: ref})
	}
	return ref.String(), nil
}

func (s *Scheduler) Demonitor(watcher uint64, refStr string) {
	ref, err := parseMonitorRef(refStr)
	if err != nil {
		return
	}
	if w, ok := s.reg.Get(watcher); ok {
		w.RemoveMonitor(ref)
	}
	s.reg.Each(func(b *block.Block) { b.RemoveWatcher(ref) })
}

// ---- kill / exit propagation (§4.5) ----------------------------------------

// Kill forcibly terminates pid as an abnormal exit, propagating to its
// links and monitors.
func (s *Scheduler) Kill(pid uint64) {
	b, ok := s.reg.Get(pid)
	if !ok {
		return
	}
	b.Kill(block.ExitReason{Normal: false})
	s.propagateExit(b)
}

// propagateExit is called once a block has transitioned to Dead (whether
// via Dispatch's own halt/fault handling or an explicit Kill), delivering
// exit/down-messages to every linked and monitoring block and recursively
// killing non-trapping linked partners on an abnormal exit (§4.5).
func (s *Scheduler) propagateExit(b *block.Block) {
	reason := b.ExitReason()
	s.names.UnregisterPID(b.PID())
	s.groups.LeaveAll(b.PID())

	b.Links().Each(func(other uint64) bool {
		ob, ok := s.reg.Get(other)
		if !ok {
			return false
		}
		ob.Unlink(b.PID())
		if ob.TrapExit() {
			ob.Deliver(mailbox.Message{Sender: b.PID(), Payload: exitPayload(reason), Kind: mailbox.KindExit})
			s.enqueue(other)
			return false
		}
		if !reason.Normal {
			if ob.State() != block.Dead {
				ob.Kill(block.ExitReason{Normal: false})
				s.propagateExit(ob)
			}
		}
		return false
	})

	for _, watch := range b.Watchers() {
		if wb, ok := s.reg.Get(watch.Target); ok {
			wb.Deliver(mailbox.Message{Sender: b.PID(), Payload: exitPayload(reason), Kind: mailbox.KindDown})
			s.enqueue(watch.Target)
		}
	}

	s.reg.Remove(b.PID())
	atomic.AddInt64(&s.blockCount, -1)
}

func exitPayload(reason block.ExitReason) value.Value {
	if reason.Normal {
		return value.NewString("normal")
	}
	if reason.Fault != nil {
		return value.NewString(reason.Fault.Error())
	}
	return value.NewString("killed")
}

// ---- step / run / stop ------------------------------------------------------

// Step dispatches every currently Runnable block exactly once, for
// embedders driving the scheduler synchronously (tests, single-threaded
// hosts, NumWorkers == 0). It returns the number of blocks dispatched.
func (s *Scheduler) Step() int {
	// Collect first: dispatch may Remove a dead block, which Each forbids.
	var runnable []uint64
	s.reg.Each(func(b *block.Block) {
		if b.State() == block.Runnable {
			runnable = append(runnable, b.PID())
		}
	})
	dispatched := 0
	for _, pid := range runnable {
		if b, ok := s.reg.Get(pid); ok && b.State() == block.Runnable {
			dispatched++
			s.dispatch(pid)
		}
	}
	return dispatched
}

// dispatch runs one scheduling turn for pid and, on death, propagates exit.
// It is the function worker.Dispatcher.Dispatch forwards to as well as what
// Step calls directly in single-threaded mode.
func (s *Scheduler) dispatch(pid uint64) bool {
	b, ok := s.reg.Get(pid)
	if !ok {
		return false
	}
	status, _ := b.Dispatch()
	switch status {
	case vm.StatusYield:
		s.enqueue(pid)
	case vm.StatusHalt, vm.StatusFault:
		s.propagateExit(b)
	}
	return true
}

// Dispatch implements worker.Dispatcher.
func (s *Scheduler) Dispatch(pid uint64) bool { return s.dispatch(pid) }

// Run drives every configured worker until ctx is cancelled or Stop is
// called, using golang.org/x/sync/errgroup the way the teacher's own
// goroutine fan-outs are grounded (§4.9 "run() ... multi-threaded"). With
// NumWorkers == 0 it instead loops Step() synchronously until ctx is done,
// the single-threaded mode §4.9 also calls for.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runMu.Lock()
	s.running = true
	s.runMu.Unlock()

	if len(s.workers) == 0 {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if s.Step() == 0 {
				// Nothing dispatched this pass: either every remaining block
				// is Waiting on mail/timeout that can still arrive (keep
				// polling), or the registry is empty and there is nothing
				// left to ever wake (a single-threaded embedder's program
				// ran to completion, so return rather than spin forever).
				if s.BlockCount() == 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				default:
				}
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				w.Run(s)
				close(done)
			}()
			select {
			case <-gctx.Done():
				w.Stop()
				<-done
				return nil
			case <-done:
				return nil
			}
		})
	}
	return g.Wait()
}

// Stop signals every worker to drain and exit; safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		for _, w := range s.workers {
			w.Stop()
		}
	})
}
