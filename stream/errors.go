package stream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMatch indicates that no command matches a request.
	ErrNoMatch = errors.New("stream: no matching command")
	// ErrAmbiguousMatch indicates that several commands match a request in strict mode.
	ErrAmbiguousMatch = errors.New("stream: ambiguous command match")
	// ErrTableFrozen is returned by Register after the table became active.
	ErrTableFrozen = errors.New("stream: command table is frozen")
	// ErrDuplicatePattern is returned by Register for a pattern already in the table.
	ErrDuplicatePattern = errors.New("stream: duplicate command pattern")
	// ErrNoPendingEnquiry indicates an enquiry without a preceding command.
	ErrNoPendingEnquiry = errors.New("stream: enquiry without pending reply")
	// ErrFrameTooLong indicates a frame exceeding the maximum frame size.
	ErrFrameTooLong = errors.New("stream: frame too long")
	// ErrSessionClosed is returned when a closed session is served.
	ErrSessionClosed = errors.New("stream: session closed")
)

// NoMatchError carries the request that matched no command.
type NoMatchError struct {
	Request string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("stream: no matching command for %q", e.Request)
}

func (e *NoMatchError) Unwrap() error {
	return ErrNoMatch
}

// AmbiguousMatchError lists the commands matching one request.
type AmbiguousMatchError struct {
	Request  string
	Commands []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("stream: request %q matches %s", e.Request, strings.Join(e.Commands, ", "))
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// HandlerError wraps an error returned by a command handler.
type HandlerError struct {
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("stream: command %s: %v", e.Command, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
