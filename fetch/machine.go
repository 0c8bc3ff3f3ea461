package fetch

import (
	"context"
	"sync"
)

// Service runs the backend for one Loading instance. fc is the machine
// context at the moment LOAD was accepted.
type Service[T any] func(ctx context.Context, fc Context[T]) (T, error)

type listener[T any] struct {
	id int
	fn func(Snapshot[T])
}

// Machine is the runtime for one subscriber's state machine.
//
// Contract:
//   - Concurrency: Send, Snapshot and the setters are safe for concurrent use;
//     events are applied one at a time in arrival order.
//   - Loading: entering Loading starts the current Service on its own
//     goroutine; its outcome is delivered as RESOLVE or REJECT tagged with
//     the generation it was started for.
//   - Cancellation: leaving a Loading instance cancels the context passed to
//     its Service. A Service that ignores cancellation still completes, and
//     its outcome is dropped.
//   - Listeners: called outside the lock, in transition order, once per
//     applied event.
type Machine[T any] struct {
	mu       sync.Mutex
	snap     Snapshot[T]
	service  Service[T]
	base     context.Context
	stop     context.CancelFunc
	cancel   context.CancelFunc
	closed   bool
	inflight int
	idle     *sync.Cond

	listeners []listener[T]
	nextID    int
	pending   []Snapshot[T]
	draining  bool
}

// NewMachine creates an Idle machine. Service contexts derive from ctx, so
// values carried by ctx reach the backend and cancelling ctx cancels every
// invocation.
func NewMachine[T any](ctx context.Context, debugName string, defaultValue T) *Machine[T] {
	base, stop := context.WithCancel(ctx)
	m := &Machine[T]{
		snap: Initial(debugName, defaultValue),
		base: base,
		stop: stop,
	}
	m.idle = sync.NewCond(&m.mu)
	return m
}

// SetService replaces the Service used by the next LOAD. An invocation
// already running keeps the Service it started with.
func (m *Machine[T]) SetService(svc Service[T]) {
	m.mu.Lock()
	m.service = svc
	m.mu.Unlock()
}

// Configure updates the debug name and default value. While Idle the value
// follows the new default.
func (m *Machine[T]) Configure(debugName string, defaultValue T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Context.DebugName = debugName
	m.snap.Context.DefaultValue = defaultValue
	if m.snap.State == StateIdle {
		m.snap.Context.Value = defaultValue
	}
}

// Snapshot returns the current state.
func (m *Machine[T]) Snapshot() Snapshot[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// OnTransition registers fn to be called after every applied event. The
// returned func removes it.
func (m *Machine[T]) OnTransition(fn func(Snapshot[T])) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener[T]{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Send applies e and reports whether it changed the state. Events sent after
// Close are ignored.
func (m *Machine[T]) Send(e Event[T]) bool {
	changed, drain := m.apply(e)
	if drain {
		m.drain()
	}
	return changed
}

// apply transitions on e and queues the notification without delivering it.
// drain reports whether the caller must call m.drain, which it may postpone
// until it has released its own locks.
func (m *Machine[T]) apply(e Event[T]) (changed, drain bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, false
	}
	prev := m.snap
	next, ok := Transition(prev, e)
	if !ok {
		return false, false
	}
	m.snap = next

	if prev.State == StateLoading && m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if next.State == StateLoading {
		m.start(next)
	}

	m.pending = append(m.pending, next)
	if m.draining {
		return true, false
	}
	m.draining = true
	return true, true
}

// start launches the Service for the Loading instance in s. Caller holds mu.
func (m *Machine[T]) start(s Snapshot[T]) {
	ctx, cancel := context.WithCancel(m.base)
	m.cancel = cancel
	m.inflight++
	go m.run(ctx, cancel, s.Generation, s.Context, m.service)
}

func (m *Machine[T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, fc Context[T], svc Service[T]) {
	defer m.done()
	defer cancel()

	v, err := m.call(ctx, fc, svc)
	if err != nil {
		m.Send(Reject[T](gen, err))
		return
	}
	m.Send(Resolve(gen, v))
}

func (m *Machine[T]) done() {
	m.mu.Lock()
	m.inflight--
	if m.inflight == 0 {
		m.idle.Broadcast()
	}
	m.mu.Unlock()
}

func (m *Machine[T]) call(ctx context.Context, fc Context[T], svc Service[T]) (v T, err error) {
	if svc == nil {
		return v, ErrNoBackend
	}
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return svc(ctx, fc)
}

func (m *Machine[T]) drain() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		snap := m.pending[0]
		m.pending = m.pending[1:]
		ls := make([]listener[T], len(m.listeners))
		copy(ls, m.listeners)
		m.mu.Unlock()

		for _, l := range ls {
			l.fn(snap)
		}
	}
}

// Wait blocks until no invocation is running. Invocations started while
// Wait is blocked are waited for too.
func (m *Machine[T]) Wait() {
	m.mu.Lock()
	for m.inflight > 0 {
		m.idle.Wait()
	}
	m.mu.Unlock()
}

// Close cancels any running invocation and stops accepting events. It does
// not wait for invocations to return; use Wait for that.
func (m *Machine[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.stop()
	m.listeners = nil
	m.pending = nil
}
