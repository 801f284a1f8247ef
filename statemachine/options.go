package statemachine

import (
	"fmt"

	"github.com/arloliu/go-labemu/logger"
)

// Option configures a Machine.
type Option[T any] interface {
	apply(m *Machine[T]) error
}

type optFunc[T any] func(m *Machine[T]) error

func (f optFunc[T]) apply(m *Machine[T]) error {
	return f(m)
}

// WithState registers a state with its hooks.
// Registering a state twice replaces its hooks.
func WithState[T any](name State, hooks Hooks) Option[T] {
	return optFunc[T](func(m *Machine[T]) error {
		if name == "" {
			return fmt.Errorf("%w: empty state name", ErrInvalidMachine)
		}
		m.addState(name, hooks)

		return nil
	})
}

// WithTransition adds a guarded transition. Guards of one source state are
// evaluated in the order they are added. States only named here are
// registered without hooks.
func WithTransition[T any](from State, to State, guard Guard[T]) Option[T] {
	return optFunc[T](func(m *Machine[T]) error {
		if from == "" || to == "" {
			return fmt.Errorf("%w: empty state name in transition %q -> %q", ErrInvalidMachine, from, to)
		}
		if guard == nil {
			return fmt.Errorf("%w: nil guard for %s -> %s", ErrInvalidMachine, from, to)
		}
		m.ensureState(from)
		m.ensureState(to)
		m.transitions[from] = append(m.transitions[from], transition[T]{from: from, to: to, guard: guard})

		return nil
	})
}

// WithHandler adds a handler invoked after every state change.
func WithHandler[T any](handler TransitionHandler) Option[T] {
	return optFunc[T](func(m *Machine[T]) error {
		if handler == nil {
			return fmt.Errorf("%w: nil transition handler", ErrInvalidMachine)
		}
		m.handlers = append(m.handlers, handler)

		return nil
	})
}

// WithLogger sets the logger of the machine.
func WithLogger[T any](l logger.Logger) Option[T] {
	return optFunc[T](func(m *Machine[T]) error {
		if l == nil {
			return fmt.Errorf("%w: logger must not be nil", ErrInvalidMachine)
		}
		m.logger = l

		return nil
	})
}
