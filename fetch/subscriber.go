package fetch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jonwraymond/fetchops/auth"
	"github.com/jonwraymond/fetchops/observe"
)

// Config is what a subscriber supplies on each observation.
type Config[T any] struct {
	// AutoFetch sends LOAD once per idle episode.
	AutoFetch bool

	// UseCache reads and merges through Env.Cache when the request data is
	// cacheable.
	UseCache bool

	DefaultValue T
	DebugName    string
	DoFetch      Backend[T]
}

// Fetchable is the view a subscriber renders from.
type Fetchable[T any] struct {
	Value     T
	LastError error
	State     State
	DebugName string

	// Fetch sends LOAD. It is a no-op while Loading.
	Fetch func()
}

// Option configures a Subscriber.
type Option[T any] func(*Subscriber[T])

// WithID sets the subscriber ID used in logs and spans. The default is a
// random UUID.
func WithID[T any](id string) Option[T] {
	return func(s *Subscriber[T]) {
		s.id = id
	}
}

// WithOnChange calls fn with the new view after every state change.
func WithOnChange[T any](fn func(Fetchable[T])) Option[T] {
	return func(s *Subscriber[T]) {
		s.onChange = fn
	}
}

// Subscriber binds one consumer to a fetch machine. Each call to Observe
// re-derives the invocation from the current data and config.
//
// Contract:
//   - Concurrency: safe for concurrent use; observations are serialized.
//   - Identity: when the cache key of the observed data changes, a machine
//     that is not Idle is reset before Observe returns, and any running
//     invocation is cancelled and its outcome dropped.
//   - AutoFetch: LOAD is sent at most once per idle episode.
type Subscriber[T any] struct {
	mu      sync.Mutex
	id      string
	env     Env
	machine *Machine[T]
	log     observe.Logger

	onChange func(Fetchable[T])

	tracked    bool
	trackedKey string

	autoFired   bool
	autoEpisode uint64

	closed bool
}

// NewSubscriber creates a Subscriber. ctx bounds the lifetime of every
// invocation and is passed to the backend. When env has no Expirer and ctx
// carries an auth.Session, the session is expired on NotAuthorized.
func NewSubscriber[T any](ctx context.Context, env Env, opts ...Option[T]) *Subscriber[T] {
	env = env.withDefaults()
	if env.Expirer == nil {
		if sess := auth.SessionFromContext(ctx); sess != nil {
			env.Expirer = sess
		}
	}

	var zero T
	s := &Subscriber[T]{
		id:      uuid.NewString(),
		env:     env,
		machine: NewMachine(ctx, "", zero),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = env.Logger.WithFetch(observe.FetchMeta{SubscriberID: s.id})

	if s.onChange != nil {
		fn := s.onChange
		s.machine.OnTransition(func(snap Snapshot[T]) {
			fn(s.view(snap))
		})
	}
	return s
}

// ID returns the subscriber ID.
func (s *Subscriber[T]) ID() string {
	return s.id
}

// Observe reconciles the subscriber with data and cfg and returns the
// resulting view. Change notifications are delivered after the subscriber
// lock is released, so an OnChange callback may call Observe again.
func (s *Subscriber[T]) Observe(data any, cfg Config[T]) Fetchable[T] {
	view, drain := s.reconcile(data, cfg)
	if drain {
		s.machine.drain()
	}
	return view
}

func (s *Subscriber[T]) reconcile(data any, cfg Config[T]) (view Fetchable[T], drain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.view(s.machine.Snapshot()), false
	}

	key, ok := s.env.Keyer.Key(data)
	if !ok {
		key = ""
	}

	inv := NewInvocation(InvocationConfig[T]{
		Cache:        s.env.Cache,
		CacheKey:     key,
		Data:         data,
		DoFetch:      cfg.DoFetch,
		UseCache:     cfg.UseCache,
		DebugName:    cfg.DebugName,
		SubscriberID: s.id,
		Expirer:      s.env.Expirer,
		Logger:       s.env.Logger,
		Middleware:   s.env.Middleware,
		Flights:      s.env.Flights,
		Codec:        s.env.Codec,
	})
	s.machine.SetService(inv.Invoke)
	s.machine.Configure(cfg.DebugName, cfg.DefaultValue)

	if s.tracked && key != s.trackedKey {
		changed, d := s.machine.apply(Reset[T]())
		drain = drain || d
		if changed {
			s.log.Debug(context.Background(), "request identity changed; reset",
				observe.Field{Key: "previous_key", Value: s.trackedKey},
				observe.Field{Key: "key", Value: key})
		}
	}
	s.tracked = true
	s.trackedKey = key

	snap := s.machine.Snapshot()
	if cfg.AutoFetch && snap.State == StateIdle && (!s.autoFired || s.autoEpisode != snap.Episode) {
		s.autoFired = true
		s.autoEpisode = snap.Episode
		_, d := s.machine.apply(Load[T]())
		drain = drain || d
		snap = s.machine.Snapshot()
	}
	return s.view(snap), drain
}

// Fetch sends LOAD using the invocation from the latest Observe.
func (s *Subscriber[T]) Fetch() {
	s.machine.Send(Load[T]())
}

// Reset returns the subscriber to Idle with its default value.
func (s *Subscriber[T]) Reset() {
	s.machine.Send(Reset[T]())
}

// Snapshot returns the current machine state.
func (s *Subscriber[T]) Snapshot() Snapshot[T] {
	return s.machine.Snapshot()
}

// Wait blocks until no invocation of this subscriber is running.
func (s *Subscriber[T]) Wait() {
	s.machine.Wait()
}

// Close cancels any running invocation and detaches the subscriber.
func (s *Subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.machine.Close()
	return nil
}

func (s *Subscriber[T]) view(snap Snapshot[T]) Fetchable[T] {
	return Fetchable[T]{
		Value:     snap.Context.Value,
		LastError: snap.Context.LastError,
		State:     snap.State,
		DebugName: snap.Context.DebugName,
		Fetch:     s.Fetch,
	}
}
