package fetch

// State is the lifecycle state of one subscriber.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateResolved
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// EventType names a state machine event.
type EventType int

const (
	EventLoad EventType = iota
	EventResolve
	EventReject
	EventReset
)

func (t EventType) String() string {
	switch t {
	case EventLoad:
		return "LOAD"
	case EventResolve:
		return "RESOLVE"
	case EventReject:
		return "REJECT"
	case EventReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Context is the data owned by one subscriber's machine.
type Context[T any] struct {
	DebugName    string
	DefaultValue T
	Value        T
	LastError    error
}

// Event is an input to Transition. RESOLVE and REJECT carry the generation
// of the Loading instance that produced them.
type Event[T any] struct {
	Type       EventType
	Generation uint64
	Value      T
	Err        error
}

// Load returns a LOAD event.
func Load[T any]() Event[T] { return Event[T]{Type: EventLoad} }

// Reset returns a RESET event.
func Reset[T any]() Event[T] { return Event[T]{Type: EventReset} }

// Resolve returns a RESOLVE event for the Loading instance gen.
func Resolve[T any](gen uint64, v T) Event[T] {
	return Event[T]{Type: EventResolve, Generation: gen, Value: v}
}

// Reject returns a REJECT event for the Loading instance gen.
func Reject[T any](gen uint64, err error) Event[T] {
	return Event[T]{Type: EventReject, Generation: gen, Err: err}
}

// Snapshot is the full machine state.
//
// Generation identifies the current (or last) Loading instance and grows by
// one on every entry into Loading. Episode counts idle episodes: it grows by
// one on every RESET that leaves a non-idle state.
type Snapshot[T any] struct {
	State      State
	Context    Context[T]
	Generation uint64
	Episode    uint64
}

// Initial returns the Idle snapshot a new machine starts in.
func Initial[T any](debugName string, defaultValue T) Snapshot[T] {
	return Snapshot[T]{
		State: StateIdle,
		Context: Context[T]{
			DebugName:    debugName,
			DefaultValue: defaultValue,
			Value:        defaultValue,
		},
	}
}

// Transition applies e to s. It reports false, and returns s unchanged, when
// the event does not apply: LOAD while Loading, RESET while Idle, and any
// RESOLVE or REJECT that is not for the current Loading instance.
func Transition[T any](s Snapshot[T], e Event[T]) (Snapshot[T], bool) {
	switch e.Type {
	case EventLoad:
		if s.State == StateLoading {
			return s, false
		}
		s.State = StateLoading
		s.Generation++
		s.Context.LastError = nil
		return s, true

	case EventResolve:
		if s.State != StateLoading || e.Generation != s.Generation {
			return s, false
		}
		s.State = StateResolved
		s.Context.Value = e.Value
		s.Context.LastError = nil
		return s, true

	case EventReject:
		if s.State != StateLoading || e.Generation != s.Generation {
			return s, false
		}
		err := e.Err
		if err == nil {
			err = ErrEmptyRejection
		}
		s.State = StateRejected
		s.Context.LastError = err
		return s, true

	case EventReset:
		if s.State == StateIdle {
			return s, false
		}
		s.State = StateIdle
		s.Context.Value = s.Context.DefaultValue
		s.Context.LastError = nil
		s.Episode++
		return s, true
	}
	return s, false
}
