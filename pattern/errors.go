package pattern

import (
	"errors"
	"fmt"
)

var (
	// ErrPatternBuild indicates a malformed token sequence.
	ErrPatternBuild = errors.New("pattern: invalid pattern")
	// ErrArgumentDecode indicates that captured text could not be coerced to the argument type.
	ErrArgumentDecode = errors.New("pattern: argument decode failure")
)

// BuildError is returned by Builder.Build for a malformed token sequence.
type BuildError struct {
	Name   string // command name given to New
	Reason string
	Err    error // underlying cause, e.g. a regexp syntax error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pattern: build %q: %s: %v", e.Name, e.Reason, e.Err)
	}

	return fmt.Sprintf("pattern: build %q: %s", e.Name, e.Reason)
}

func (e *BuildError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrPatternBuild, e.Err}
	}

	return []error{ErrPatternBuild}
}

// ArgumentDecodeError is returned when a captured argument cannot be decoded.
type ArgumentDecodeError struct {
	Name  string // command name
	Index int    // zero based argument position
	Kind  string // decoder kind, e.g. "float"
	Raw   string // captured text
	Err   error
}

func (e *ArgumentDecodeError) Error() string {
	return fmt.Sprintf("pattern: %s: argument %d: cannot decode %q as %s", e.Name, e.Index, e.Raw, e.Kind)
}

func (e *ArgumentDecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrArgumentDecode, e.Err}
	}

	return []error{ErrArgumentDecode}
}
