package stream

import (
	"fmt"

	"github.com/arloliu/go-labemu/pattern"
)

// Reply is the result of handling one request.
//
// The zero value is NoReply: nothing is written, not even the output
// terminator. Text("") writes the output terminator alone.
type Reply struct {
	text string
	send bool
}

// NoReply suppresses any output for a request.
var NoReply = Reply{}

// Text returns a reply carrying s.
func Text(s string) Reply {
	return Reply{text: s, send: true}
}

// Textf returns a reply carrying the formatted text.
func Textf(format string, args ...any) Reply {
	return Text(fmt.Sprintf(format, args...))
}

// Payload returns the reply text without terminator.
func (r Reply) Payload() string {
	return r.text
}

// HasReply reports whether anything is written for the reply.
func (r Reply) HasReply() bool {
	return r.send
}

// String implements fmt.Stringer.
func (r Reply) String() string {
	if !r.send {
		return "<no reply>"
	}

	return fmt.Sprintf("%q", r.text)
}

// HandlerFunc handles one matched request with its decoded arguments.
//
// Handlers run with the device lock held and must not block.
type HandlerFunc func(args pattern.Args) (Reply, error)

// Command binds a pattern to its handler.
type Command struct {
	pattern *pattern.Pattern
	handler HandlerFunc
}

// Bind creates a command entry.
func Bind(p *pattern.Pattern, h HandlerFunc) Command {
	return Command{pattern: p, handler: h}
}

// Name returns the command name of the bound pattern.
func (c Command) Name() string {
	if c.pattern == nil {
		return ""
	}

	return c.pattern.Name()
}

// Pattern returns the bound pattern.
func (c Command) Pattern() *pattern.Pattern {
	return c.pattern
}

// Conditional wraps h so that it only runs while cond reports true. Otherwise
// the request is consumed without effect and without a reply.
func Conditional(cond func() bool, h HandlerFunc) HandlerFunc {
	return func(args pattern.Args) (Reply, error) {
		if !cond() {
			return NoReply, nil
		}

		return h(args)
	}
}

// Query adapts a function without arguments returning the reply text.
func Query(fn func() string) HandlerFunc {
	return func(pattern.Args) (Reply, error) {
		return Text(fn()), nil
	}
}

// Action adapts a function that changes state and produces no reply.
func Action(fn func(args pattern.Args) error) HandlerFunc {
	return func(args pattern.Args) (Reply, error) {
		return NoReply, fn(args)
	}
}
