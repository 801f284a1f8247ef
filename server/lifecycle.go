package server

import "sync/atomic"

// State is the lifecycle state of a Server.
type State uint32

const (
	Stopped State = iota
	Starting
	Listening
	Draining
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// lifecycle holds a State changed only by compare-and-swap moves, so
// concurrent Start and Close calls cannot both win.
type lifecycle struct {
	state atomic.Uint32
}

func (l *lifecycle) get() State {
	return State(l.state.Load())
}

// move changes the state to next when it currently is one of from.
func (l *lifecycle) move(next State, from ...State) bool {
	for _, s := range from {
		if l.state.CompareAndSwap(uint32(s), uint32(next)) {
			return true
		}
	}

	return false
}

// begin claims a stopped server for starting.
func (l *lifecycle) begin() bool {
	return l.move(Starting, Stopped)
}

// abort returns a server that failed to start to Stopped.
func (l *lifecycle) abort() {
	l.move(Stopped, Starting)
}

func (l *lifecycle) listening() bool {
	return l.move(Listening, Starting)
}

// drain claims a started or starting server for closing.
func (l *lifecycle) drain() bool {
	return l.move(Draining, Listening, Starting)
}

func (l *lifecycle) stopped() bool {
	return l.move(Stopped, Draining)
}
