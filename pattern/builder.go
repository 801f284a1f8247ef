package pattern

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Regular expressions of the predefined argument tokens.
const (
	IntRegex   = `[+-]?\d+`
	FloatRegex = `[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`
	DigitRegex = `\d`
)

// ENQ is the enquiry control byte used by polled protocols.
const ENQ byte = 0x05

// Option configures a Builder.
type Option func(*Builder)

// WithArgSeparator sets the regular expression inserted between two consecutive arguments.
func WithArgSeparator(sep string) Option {
	return func(b *Builder) {
		b.argSep = sep
	}
}

// WithIgnore sets a character class body (e.g. `\r\n\s`) whose characters may
// appear, any number of times, before and after every token.
func WithIgnore(chars string) Option {
	return func(b *Builder) {
		if chars == "" {
			b.ignore = ""
			return
		}
		b.ignore = "[" + chars + "]*"
	}
}

type argSpec struct {
	kind    string
	decoder Decoder
}

// Builder accumulates tokens for one command. Builder methods return the
// builder for chaining; the first error is kept and reported by Build.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	name    string
	argSep  string
	ignore  string
	sb      strings.Builder
	args    []argSpec
	tokens  int
	hasArg  bool
	eos     bool
	err     *BuildError
	started bool
}

// New creates a builder for the command called name.
func New(name string, opts ...Option) *Builder {
	b := &Builder{name: name}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Builder) fail(reason string, err error) *Builder {
	if b.err == nil {
		b.err = &BuildError{Name: b.name, Reason: reason, Err: err}
	}

	return b
}

func (b *Builder) appendToken(expr string) bool {
	if b.err != nil {
		return false
	}
	if b.eos {
		b.fail("token after end of stream", nil)
		return false
	}
	if !b.started {
		b.sb.WriteString(b.ignore)
		b.started = true
	}
	b.sb.WriteString(expr)
	b.sb.WriteString(b.ignore)
	b.tokens++

	return true
}

// Escape appends a literal token that must appear exactly.
func (b *Builder) Escape(literal string) *Builder {
	if literal == "" {
		return b.fail("empty literal", nil)
	}
	b.appendToken(regexp.QuoteMeta(literal))

	return b
}

// Arg appends an argument matching expr. The decoder converts the captured
// text; a nil decoder keeps the raw string.
//
// expr must not contain capturing groups; use (?:...) for grouping.
func (b *Builder) Arg(expr string, decoder Decoder) *Builder {
	return b.arg("string", expr, decoder)
}

func (b *Builder) arg(kind string, expr string, decoder Decoder) *Builder {
	if b.err != nil {
		return b
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return b.fail("invalid argument expression", err)
	}
	if re.NumSubexp() != 0 {
		return b.fail("argument expression must not contain capturing groups", nil)
	}
	if decoder == nil {
		decoder = DecodeString
	}

	sep := ""
	if b.hasArg {
		sep = b.argSep
	}
	if b.appendToken(sep + "(" + expr + ")") {
		b.args = append(b.args, argSpec{kind: kind, decoder: decoder})
		b.hasArg = true
	}

	return b
}

// Int appends a signed integer argument decoded to int64.
func (b *Builder) Int() *Builder {
	return b.arg("int", IntRegex, DecodeInt)
}

// Float appends a floating point argument decoded to float64.
func (b *Builder) Float() *Builder {
	return b.arg("float", FloatRegex, DecodeFloat)
}

// Digit appends a single digit argument decoded to int.
func (b *Builder) Digit() *Builder {
	return b.arg("digit", DigitRegex, DecodeDigit)
}

// Enum appends an argument that must be one of options.
// Longer options are tried first so that an option which is a prefix of
// another never shadows it.
func (b *Builder) Enum(options ...string) *Builder {
	if len(options) == 0 {
		return b.fail("enum without options", nil)
	}

	sorted := slices.Clone(options)
	slices.SortStableFunc(sorted, func(x, y string) int {
		return cmp.Compare(len(y), len(x))
	})
	quoted := make([]string, len(sorted))
	for i, opt := range sorted {
		if opt == "" {
			return b.fail("empty enum option", nil)
		}
		quoted[i] = regexp.QuoteMeta(opt)
	}

	return b.arg("enum", "(?:"+strings.Join(quoted, "|")+")", DecodeEnum(options...))
}

// AnyExcept appends an argument matching any run of characters other than those in delim.
func (b *Builder) AnyExcept(delim string) *Builder {
	if delim == "" {
		return b.fail("empty delimiter", nil)
	}

	return b.arg("string", "[^"+quoteClass(delim)+"]*", DecodeString)
}

// String appends a free text argument of at least one character.
func (b *Builder) String() *Builder {
	return b.arg("string", ".+", DecodeString)
}

// Optional appends a literal that may be absent. It consumes no argument slot.
func (b *Builder) Optional(text string) *Builder {
	if text == "" {
		return b.fail("empty optional literal", nil)
	}
	b.appendToken("(?:" + regexp.QuoteMeta(text) + ")?")

	return b
}

// Enq appends the enquiry control byte as a literal.
func (b *Builder) Enq() *Builder {
	b.appendToken(regexp.QuoteMeta(string([]byte{ENQ})))

	return b
}

// EOS marks the end of input; nothing may follow the preceding tokens.
func (b *Builder) EOS() *Builder {
	if b.appendToken("$") {
		b.eos = true
	}

	return b
}

// Build freezes the token sequence and returns the compiled Pattern.
func (b *Builder) Build() (*Pattern, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.tokens == 0 {
		return nil, &BuildError{Name: b.name, Reason: "no tokens"}
	}

	source := b.sb.String()
	re, err := regexp.Compile("^(?:" + source + ")")
	if err != nil {
		return nil, &BuildError{Name: b.name, Reason: "invalid expression", Err: err}
	}
	if re.NumSubexp() != len(b.args) {
		return nil, &BuildError{Name: b.name, Reason: "capture group count does not match argument count"}
	}

	return &Pattern{
		name:   b.name,
		source: source,
		re:     re,
		args:   slices.Clone(b.args),
	}, nil
}

// MustBuild is like Build but panics on error.
// It is intended for package level command tables.
func (b *Builder) MustBuild() *Pattern {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}

	return p
}

// quoteClass escapes characters that are special inside a bracket expression.
func quoteClass(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\\', ']', '[', '^', '-':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}

	return sb.String()
}
