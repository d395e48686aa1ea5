package httpsession

// State is the lifecycle state of a Request.
//
// The legal transitions are:
//
//	Initialized -> Resumed
//	Resumed     <-> Suspended
//	any non-terminal -> Cancelled
//	Resumed     -> Finished
//
// Cancelled and Finished are terminal. A retried request re-enters
// Initialized with its identity, validators, and handlers intact.
type State int32

const (
	// StateInitialized is the state of a freshly created request, before its
	// first resume.
	StateInitialized State = iota
	// StateResumed means the request's task is running, or will run as soon
	// as task setup completes.
	StateResumed
	// StateSuspended means the task is paused. Resume continues it.
	StateSuspended
	// StateCancelled is terminal: entered by Cancel, never left.
	StateCancelled
	// StateFinished is terminal: the final attempt completed and all handlers
	// have been scheduled.
	StateFinished

	stateSentinel // one past the last valid state
)

var stateNames = [stateSentinel]string{
	"Initialized",
	"Resumed",
	"Suspended",
	"Cancelled",
	"Finished",
}

// Name returns the name of the state. It panics if s is not a valid State.
func (s State) Name() string {
	if s < 0 || s >= stateSentinel {
		panic("httpsession: invalid state")
	}
	return stateNames[s]
}

// String returns a human-readable representation of the state, for example
// "Resumed". Unlike Name, String does not panic on invalid values.
func (s State) String() string {
	if s < 0 || s >= stateSentinel {
		return "State(invalid)"
	}
	return stateNames[s]
}

// Terminal reports whether the state is one of the two terminal states.
func (s State) Terminal() bool {
	return s == StateCancelled || s == StateFinished
}

// canTransition reports whether moving from s to next is a legal state
// machine step.
func (s State) canTransition(next State) bool {
	switch {
	case s.Terminal():
		return false
	case next == StateCancelled:
		return true
	}
	switch s {
	case StateInitialized:
		return next == StateResumed
	case StateResumed:
		return next == StateSuspended || next == StateFinished
	case StateSuspended:
		return next == StateResumed
	default:
		return false
	}
}
