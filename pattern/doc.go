// Package pattern compiles human-authored command shapes into matchers.
//
// A Builder accumulates an ordered sequence of tokens (literals, typed
// arguments, optional literals, end of stream) and produces an immutable
// Pattern: one anchored regular expression plus one decoder per argument.
//
//	p := pattern.New("set_voltage").Escape("VOLT").Escape(" ").Float().EOS().MustBuild()
//
//	raw, ok := p.Match("VOLT 2.5")   // raw == []string{"2.5"}
//	args, err := p.Decode(raw)       // args.Float(0) == 2.5
//
// Patterns are anchored at the start of the request. Without EOS a pattern
// also matches requests that carry extra trailing text.
//
// Options tune the glue between tokens: WithIgnore adds a character set that
// may appear around every token and WithArgSeparator inserts a separator
// between consecutive arguments.
package pattern
