// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package worker implements the OS-thread worker loop that drives the
// scheduler's Runnable blocks: a private run queue, a work-stealing victim
// search when the queue empties, and a main loop grounded in the teacher's
// goroutine/channel idiom (`miner/worker.go`'s newWorker/mainLoop split:
// a dedicated goroutine, a stop channel, atomic state) adapted from mining
// one block at a time to dequeuing and dispatching many (§4.8, §4.9).
package worker

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probeum/blockrt/rtlog"
)

// idleBackoff bounds how long Run spins doing nothing useful before
// re-checking for work; short enough that a newly Enqueue'd or stolen-from
// block is picked up promptly, long enough not to burn a core spinning.
const idleBackoff = 200 * time.Microsecond

// State is a worker's own run state, independent of any block's lifecycle
// state.
type State int32

const (
	Idle State = iota
	Running
	Stopped
)

// deque is a private run queue of PIDs. It is not a true lock-free
// Chase-Lev deque (that would need unverifiable atomic CAS bookkeeping);
// instead it is a mutex-guarded slice that supports the same two access
// patterns a Chase-Lev deque exists for: the owner pushes/pops from the
// tail (LIFO, cache-friendly for its own work), and a thief pops from the
// head (FIFO, taking the oldest / least-recently-touched item so the owner
// and a thief rarely contend on the same end).
type deque struct {
	mu    sync.Mutex
	items []uint64
}

func newDeque() *deque { return &deque{} }

func (d *deque) pushOwn(pid uint64) {
	d.mu.Lock()
	d.items = append(d.items, pid)
	d.mu.Unlock()
}

func (d *deque) popOwn() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return 0, false
	}
	pid := d.items[n-1]
	d.items = d.items[:n-1]
	return pid, true
}

func (d *deque) steal() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return 0, false
	}
	pid := d.items[0]
	d.items = d.items[1:]
	return pid, true
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Dispatcher is how a worker actually advances a block; supplied by the
// scheduler so this package never needs to import block/registry (a block
// may re-enqueue itself onto some worker via enqueue, decided by whoever
// implements Dispatcher).
type Dispatcher interface {
	// Dispatch runs pid for one scheduling turn. ok is false if pid is no
	// longer registered (it raced with removal) and should simply be
	// dropped.
	Dispatch(pid uint64) (ok bool)
}

// Worker is one OS-thread-backed execution unit with its own run queue.
type Worker struct {
	id    int
	queue *deque
	log   rtlog.Logger

	state   int32 // atomic, one of State
	ran     uint64 // atomic counter: blocks dispatched
	stolen  uint64 // atomic counter: items stolen from peers
	stopCh  chan struct{}
	doneCh  chan struct{}

	peers         []*Worker // set by Scheduler after all workers are built
	enableSteal   bool
	rng           *rand.Rand
}

// New returns an Idle worker with id used only for logging/diagnostics.
func New(id int, enableSteal bool, log rtlog.Logger) *Worker {
	return &Worker{
		id:          id,
		queue:       newDeque(),
		log:         log,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		enableSteal: enableSteal,
		rng:         rand.New(rand.NewSource(int64(id) + 1)),
	}
}

// SetPeers installs the sibling workers this one may steal from; called by
// the Scheduler once, before Run.
func (w *Worker) SetPeers(peers []*Worker) { w.peers = peers }

func (w *Worker) ID() int { return w.id }

// Enqueue adds pid to this worker's own queue (e.g. a newly spawned block
// assigned round-robin, or a block waking from Waiting).
func (w *Worker) Enqueue(pid uint64) { w.queue.pushOwn(pid) }

func (w *Worker) QueueLen() int { return w.queue.len() }

func (w *Worker) State() State { return State(atomic.LoadInt32(&w.state)) }

func (w *Worker) Dispatched() uint64 { return atomic.LoadUint64(&w.ran) }
func (w *Worker) Stolen() uint64     { return atomic.LoadUint64(&w.stolen) }

// Run is the worker's main loop: pop from its own queue, falling back to
// stealing from a random peer, dispatching whatever it finds until Stop is
// called and the queue (and every peer's) is empty. It returns once fully
// drained past the stop signal, so Scheduler.stop() can wait on it.
func (w *Worker) Run(dispatch Dispatcher) {
	atomic.StoreInt32(&w.state, int32(Running))
	defer func() {
		atomic.StoreInt32(&w.state, int32(Stopped))
		close(w.doneCh)
	}()
	for {
		pid, ok := w.queue.popOwn()
		if !ok && w.enableSteal {
			pid, ok = w.trySteal()
		}
		if ok {
			if dispatch.Dispatch(pid) {
				atomic.AddUint64(&w.ran, 1)
			}
			continue
		}
		select {
		case <-w.stopCh:
			return
		default:
		}
		if !w.idleWait() {
			return
		}
	}
}

// idleWait blocks briefly waiting for the stop signal or new work; it
// returns false once Stop has fired and there is truly nothing left
// anywhere to steal.
func (w *Worker) idleWait() bool {
	select {
	case <-w.stopCh:
		return w.queue.len() > 0
	case <-time.After(idleBackoff):
		return true
	}
}

func (w *Worker) trySteal() (uint64, bool) {
	n := len(w.peers)
	if n == 0 {
		return 0, false
	}
	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		peer := w.peers[(start+i)%n]
		if peer == w {
			continue
		}
		if pid, ok := peer.queue.steal(); ok {
			atomic.AddUint64(&w.stolen, 1)
			return pid, true
		}
	}
	return 0, false
}

// Stop signals the worker to exit its loop once its queue (and, with
// stealing enabled, every peer's) drains.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }
