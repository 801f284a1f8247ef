// Package statemachine provides the tick driven state machine used by
// stateful instrument emulators.
//
// A Machine holds a finite set of named states and guarded transitions.
// Guards are pure functions of a snapshot of the device state, taken once per
// tick, so machines can be tested without a live device:
//
//	m, err := statemachine.New("idle", dev.snapshot,
//	    statemachine.WithTransition("idle", "running", func(s snapshot) bool { return s.started }),
//	    statemachine.WithTransition("running", "idle", func(s snapshot) bool { return !s.started }),
//	)
//
// Tick is driven by an external scheduler, usually device.Runner.
package statemachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-labemu/logger"
)

var (
	// ErrTransitionGuard indicates that a guard panicked instead of returning a boolean.
	ErrTransitionGuard = errors.New("statemachine: transition guard failure")
	// ErrInvalidMachine indicates an invalid machine definition.
	ErrInvalidMachine = errors.New("statemachine: invalid machine definition")
)

// TransitionGuardError is returned by Tick when a guard panics.
type TransitionGuardError struct {
	From  State
	To    State
	Panic any
}

func (e *TransitionGuardError) Error() string {
	return fmt.Sprintf("statemachine: guard %s -> %s failed: %v", e.From, e.To, e.Panic)
}

func (e *TransitionGuardError) Unwrap() error {
	return ErrTransitionGuard
}

// State is the name of a state.
type State string

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// Hooks are the optional callbacks of one state.
type Hooks struct {
	// OnEntry is called when the state becomes current.
	OnEntry func()
	// InState is called on every tick spent in the state, before guards are evaluated.
	InState func(dt time.Duration)
	// OnExit is called when the state is left.
	OnExit func()
}

// Guard decides whether a transition fires. It must not have side effects.
type Guard[T any] func(snapshot T) bool

// TransitionHandler is invoked after every state change.
//
// Note: the handler is invoked synchronously from Tick.
type TransitionHandler func(prev State, next State)

type transition[T any] struct {
	from  State
	to    State
	guard Guard[T]
}

// Machine is a finite state machine with guarded transitions.
//
// A Machine is not safe for concurrent use; callers serialize Tick and
// Current, normally with the owning device's lock.
type Machine[T any] struct {
	initial     State
	current     State
	entered     bool
	snapshot    func() T
	states      map[State]Hooks
	order       []State
	transitions map[State][]transition[T]
	handlers    []TransitionHandler
	logger      logger.Logger
}

// New creates a machine starting in initial.
//
// snapshot is called once per tick when the current state has outgoing
// transitions; a nil snapshot passes the zero value of T to guards.
func New[T any](initial State, snapshot func() T, opts ...Option[T]) (*Machine[T], error) {
	if initial == "" {
		return nil, fmt.Errorf("%w: empty initial state", ErrInvalidMachine)
	}

	m := &Machine[T]{
		initial:     initial,
		current:     initial,
		snapshot:    snapshot,
		states:      make(map[State]Hooks),
		transitions: make(map[State][]transition[T]),
		logger:      logger.GetLogger(),
	}
	m.addState(initial, Hooks{})

	for _, opt := range opts {
		if err := opt.apply(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Machine[T]) addState(name State, hooks Hooks) {
	if _, ok := m.states[name]; !ok {
		m.order = append(m.order, name)
	}
	m.states[name] = hooks
}

func (m *Machine[T]) ensureState(name State) {
	if _, ok := m.states[name]; !ok {
		m.addState(name, Hooks{})
	}
}

// Current returns the active state.
func (m *Machine[T]) Current() State {
	return m.current
}

// Initial returns the initial state.
func (m *Machine[T]) Initial() State {
	return m.initial
}

// States returns every known state in registration order.
func (m *Machine[T]) States() []State {
	states := make([]State, len(m.order))
	copy(states, m.order)

	return states
}

// Tick advances the machine by one evaluation cycle of duration dt.
//
// The first tick enters the initial state. Every tick then runs the current
// state's InState hook and evaluates its outgoing guards in registration
// order; the first guard returning true fires. At most one transition fires
// per tick. Tick reports whether the state changed.
//
// A panicking guard aborts the tick with a *TransitionGuardError.
func (m *Machine[T]) Tick(dt time.Duration) (bool, error) {
	if !m.entered {
		m.entered = true
		m.logger.Debug("statemachine: enter initial state", "state", m.current)
		if hook := m.states[m.current].OnEntry; hook != nil {
			hook()
		}
	}

	if hook := m.states[m.current].InState; hook != nil {
		hook(dt)
	}

	outgoing := m.transitions[m.current]
	if len(outgoing) == 0 {
		return false, nil
	}

	var snap T
	if m.snapshot != nil {
		snap = m.snapshot()
	}

	for _, tr := range outgoing {
		fire, err := evalGuard(tr, snap)
		if err != nil {
			m.logger.Error("statemachine: guard failed", "from", tr.from, "to", tr.to, "error", err)
			return false, err
		}
		if !fire {
			continue
		}
		if tr.to == m.current {
			return false, nil
		}
		m.switchTo(tr.to)

		return true, nil
	}

	return false, nil
}

func (m *Machine[T]) switchTo(next State) {
	prev := m.current
	if hook := m.states[prev].OnExit; hook != nil {
		hook()
	}

	m.current = next
	m.logger.Debug("statemachine: transition", "from", prev, "to", next)

	if hook := m.states[next].OnEntry; hook != nil {
		hook()
	}

	for _, handler := range m.handlers {
		handler(prev, next)
	}
}

func evalGuard[T any](tr transition[T], snap T) (fire bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TransitionGuardError{From: tr.from, To: tr.to, Panic: r}
		}
	}()

	return tr.guard(snap), nil
}
