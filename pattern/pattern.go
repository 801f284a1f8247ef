package pattern

import (
	"regexp"
)

// Pattern is an immutable compiled command shape.
// It is safe for concurrent use.
type Pattern struct {
	name   string
	source string
	re     *regexp.Regexp
	args   []argSpec
}

// Name returns the command name the pattern was built for.
func (p *Pattern) Name() string {
	return p.name
}

// String returns the regular expression source of the pattern.
func (p *Pattern) String() string {
	return p.source
}

// NumArgs returns the number of argument tokens.
func (p *Pattern) NumArgs() int {
	return len(p.args)
}

// Match reports whether request matches the pattern and returns the text
// captured for each argument.
func (p *Pattern) Match(request string) ([]string, bool) {
	m := p.re.FindStringSubmatch(request)
	if m == nil {
		return nil, false
	}

	return m[1:], true
}

// Decode converts captured argument text into typed values.
func (p *Pattern) Decode(raw []string) (Args, error) {
	if len(raw) != len(p.args) {
		return nil, &ArgumentDecodeError{Name: p.name, Index: len(raw), Kind: "argument count"}
	}

	args := make(Args, len(raw))
	for i, arg := range p.args {
		v, err := arg.decoder(raw[i])
		if err != nil {
			return nil, &ArgumentDecodeError{Name: p.name, Index: i, Kind: arg.kind, Raw: raw[i], Err: err}
		}
		args[i] = v
	}

	return args, nil
}

// MatchDecode runs Match followed by Decode.
// ok is false when the request does not match; err reports a decode failure of a matching request.
func (p *Pattern) MatchDecode(request string) (args Args, ok bool, err error) {
	raw, ok := p.Match(request)
	if !ok {
		return nil, false, nil
	}
	args, err = p.Decode(raw)

	return args, true, err
}
