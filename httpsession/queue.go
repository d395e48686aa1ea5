package httpsession

import (
	"context"
	"sync"
)

// DispatchQueue executes functions asynchronously. Completion handlers and
// event monitors are delivered on a DispatchQueue so callers control where
// their code runs.
//
// A Session provides a default serial queue for handler delivery; callers may
// substitute their own implementation (a worker pool, a test-synchronous
// queue, etc.) per handler or per monitor.
type DispatchQueue interface {
	// Async schedules fn for execution and returns without waiting for it.
	Async(fn func())
}

// QueueFunc adapts a plain function to the DispatchQueue interface.
type QueueFunc func(fn func())

// Async implements DispatchQueue.
func (q QueueFunc) Async(fn func()) { q(fn) }

// SyncQueue runs functions inline on the calling goroutine. It is intended
// for tests that need deterministic handler execution.
var SyncQueue DispatchQueue = QueueFunc(func(fn func()) { fn() })

// SerialQueue executes functions one at a time, in FIFO order. The drain
// goroutine is started lazily on first use and exits whenever the queue runs
// dry, so an idle SerialQueue costs nothing.
type SerialQueue struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

// NewSerialQueue returns an empty serial queue.
func NewSerialQueue() *SerialQueue {
	return &SerialQueue{}
}

// Async implements DispatchQueue. Functions submitted from a single goroutine
// run in submission order.
func (q *SerialQueue) Async(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	go q.drain()
}

func (q *SerialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// gate is a one-shot completion gate. It starts closed; open releases every
// current and future waiter and is idempotent. Response serialization for a
// request waits on its gate, which the session opens exactly once, when the
// final attempt completes.
type gate struct {
	once sync.Once
	ch   chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.ch) })
}

func (g *gate) wait() {
	<-g.ch
}

func (g *gate) opened() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// pauseGate is a resumable barrier used for task suspension. A task's start
// gate begins suspended and is released by the first resume; the in-flight
// pause gate begins released and toggles with Suspend/Resume. Waiters block
// while the gate is suspended and unblock when it resumes or the context is
// cancelled.
type pauseGate struct {
	mu        sync.Mutex
	suspended bool
	resumed   chan struct{}
}

func newPauseGate(suspended bool) *pauseGate {
	g := &pauseGate{suspended: suspended}
	if suspended {
		g.resumed = make(chan struct{})
	}
	return g
}

func (g *pauseGate) suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suspended {
		return
	}
	g.suspended = true
	g.resumed = make(chan struct{})
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.suspended {
		return
	}
	g.suspended = false
	close(g.resumed)
}

// wait blocks while the gate is suspended. It returns the context's cause if
// the context ends first.
func (g *pauseGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.suspended {
			g.mu.Unlock()
			return nil
		}
		resumed := g.resumed
		g.mu.Unlock()

		select {
		case <-resumed:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}
