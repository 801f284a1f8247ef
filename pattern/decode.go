package pattern

import (
	"fmt"
	"slices"
	"strconv"
)

// Decoder coerces the text captured for one argument into a typed value.
type Decoder func(raw string) (any, error)

// DecodeInt parses a base-10 integer into an int64.
func DecodeInt(raw string) (any, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// DecodeFloat parses a floating point number into a float64.
func DecodeFloat(raw string) (any, error) {
	return strconv.ParseFloat(raw, 64)
}

// DecodeDigit accepts exactly one decimal digit and returns it as an int.
func DecodeDigit(raw string) (any, error) {
	if len(raw) != 1 || raw[0] < '0' || raw[0] > '9' {
		return nil, fmt.Errorf("not a single digit: %q", raw)
	}

	return int(raw[0] - '0'), nil
}

// DecodeString returns the captured text unchanged.
func DecodeString(raw string) (any, error) {
	return raw, nil
}

// DecodeEnum returns a decoder accepting only one of options.
func DecodeEnum(options ...string) Decoder {
	set := slices.Clone(options)

	return func(raw string) (any, error) {
		if !slices.Contains(set, raw) {
			return nil, fmt.Errorf("%q is not one of %v", raw, set)
		}

		return raw, nil
	}
}

// Args holds the decoded arguments of one request, in pattern order.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int {
	return len(a)
}

// Value returns the i-th decoded value, or nil when i is out of range.
func (a Args) Value(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}

	return a[i]
}

// Int returns the i-th argument as an int64.
// Digit and float arguments are converted; anything else yields 0.
func (a Args) Int(i int) int64 {
	switch v := a.Value(i).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Float returns the i-th argument as a float64.
// Integer arguments are converted; anything else yields 0.
func (a Args) Float(i int) float64 {
	switch v := a.Value(i).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// String returns the i-th argument formatted as text.
func (a Args) String(i int) string {
	switch v := a.Value(i).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
