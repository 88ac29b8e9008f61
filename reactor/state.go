package reactor

import "sync/atomic"

// ReactorState enumerates the lifecycle states of a Reactor. Values are
// ordered so that numeric comparisons (e.g. "at or past Terminating") stay
// meaningful if new states are ever inserted at the end.
type ReactorState uint32

const (
	StateAwake ReactorState = iota
	StateRunning
	StateSleeping
	StateTerminating
	StateTerminated
)

func (s ReactorState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is a lock-free state machine guarding the Reactor's lifecycle.
// Transitions are pure compare-and-swap: the hot path (poll/wake) never
// takes a mutex to read or change state.
type fastState struct {
	v atomic.Uint32
}

func newFastState() *fastState {
	fs := &fastState{}
	fs.v.Store(uint32(StateAwake))
	return fs
}

func (fs *fastState) Load() ReactorState {
	return ReactorState(fs.v.Load())
}

func (fs *fastState) Store(s ReactorState) {
	fs.v.Store(uint32(s))
}

func (fs *fastState) TryTransition(from, to ReactorState) bool {
	return fs.v.CompareAndSwap(uint32(from), uint32(to))
}

func (fs *fastState) TransitionAny(from []ReactorState, to ReactorState) bool {
	for _, f := range from {
		if fs.TryTransition(f, to) {
			return true
		}
	}
	return false
}

func (fs *fastState) IsTerminal() bool {
	s := fs.Load()
	return s == StateTerminating || s == StateTerminated
}

func (fs *fastState) CanAcceptWork() bool {
	return !fs.IsTerminal()
}
