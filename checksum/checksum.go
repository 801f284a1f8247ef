// Package checksum implements the Jülich additive checksum used by the
// binary framed chopper protocols.
//
// A frame on the wire is
//
//	#<header><4 payload characters><2 checksum characters>
//
// where the two character header includes the leading '#' marker. The
// checksum is the sum of the character codes modulo 256 rendered as two
// uppercase hexadecimal digits. Data made only of '0' and '#' characters
// always carries the literal checksum "00".
//
// Two variants exist in deployed controllers: SumAll adds every header and
// payload character, SumSkipMarker leaves the first (marker) character out.
// Each protocol family names the variant it speaks.
package checksum

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the length of a frame header, marker included.
	HeaderSize = 2
	// PayloadSize is the length of a frame payload.
	PayloadSize = 4
	// DataSize is the length of header plus payload.
	DataSize = HeaderSize + PayloadSize
	// Size is the length of the rendered checksum.
	Size = 2
	// FrameSize is the length of a complete frame.
	FrameSize = DataSize + Size

	// Marker is the first character of every frame.
	Marker = '#'
	// Zero is the checksum of data made only of '0' and '#'.
	Zero = "00"
)

var (
	// ErrMalformedFrame indicates a length or character-set violation.
	ErrMalformedFrame = errors.New("checksum: malformed frame")
	// ErrChecksumMismatch indicates that the transmitted checksum is wrong.
	ErrChecksumMismatch = errors.New("checksum: checksum mismatch")
)

// MalformedFrameError reports which part of a frame is malformed.
type MalformedFrameError struct {
	Field  string // "header", "payload", "data", "checksum" or "frame"
	Value  string
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("checksum: malformed %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *MalformedFrameError) Unwrap() error {
	return ErrMalformedFrame
}

// ChecksumMismatchError is returned by Verify when the claimed checksum differs from the computed one.
type ChecksumMismatchError struct {
	Header   string
	Payload  string
	Claimed  string
	Computed string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum: mismatch for %s%s: got %s, want %s", e.Header, e.Payload, e.Claimed, e.Computed)
}

func (e *ChecksumMismatchError) Unwrap() error {
	return ErrChecksumMismatch
}

// Variant selects which characters contribute to the sum.
type Variant int

const (
	// SumAll sums every header and payload character.
	SumAll Variant = iota
	// SumSkipMarker sums every character except the first one.
	SumSkipMarker
)

func (v Variant) String() string {
	switch v {
	case SumAll:
		return "sum-all"
	case SumSkipMarker:
		return "sum-skip-marker"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Codec computes and verifies checksums for one variant.
// The zero value uses SumAll.
type Codec struct {
	variant Variant
}

// New returns a codec for the given variant.
func New(v Variant) Codec {
	return Codec{variant: v}
}

// Default is the SumAll codec used by the package level functions.
var Default = New(SumAll)

// Variant returns the codec variant.
func (c Codec) Variant() Variant {
	return c.variant
}

// Compute returns the checksum of header and payload.
func (c Codec) Compute(header, payload string) (string, error) {
	if err := checkField("header", header, HeaderSize); err != nil {
		return "", err
	}
	if err := checkField("payload", payload, PayloadSize); err != nil {
		return "", err
	}

	return c.sum(header + payload), nil
}

// Verify checks claimed against the checksum of header and payload.
func (c Codec) Verify(header, payload, claimed string) error {
	computed, err := c.Compute(header, payload)
	if err != nil {
		return err
	}
	if err := checkField("checksum", claimed, Size); err != nil {
		return err
	}
	if claimed != computed {
		return &ChecksumMismatchError{Header: header, Payload: payload, Claimed: claimed, Computed: computed}
	}

	return nil
}

// Append returns the six character data followed by its checksum.
func (c Codec) Append(data string) (string, error) {
	if err := checkField("data", data, DataSize); err != nil {
		return "", err
	}

	return data + c.sum(data), nil
}

// MustAppend is like Append but panics on error.
func (c Codec) MustAppend(data string) string {
	s, err := c.Append(data)
	if err != nil {
		panic(err)
	}

	return s
}

func (c Codec) sum(data string) string {
	if strings.Trim(data, "0#") == "" {
		return Zero
	}

	counted := data
	if c.variant == SumSkipMarker {
		counted = data[1:]
	}

	var sum uint32
	for i := 0; i < len(counted); i++ {
		sum += uint32(counted[i])
	}

	return fmt.Sprintf("%02X", sum&0xFF)
}

func checkField(field, value string, size int) error {
	if len(value) != size {
		return &MalformedFrameError{Field: field, Value: value, Reason: fmt.Sprintf("length %d, want %d", len(value), size)}
	}
	for i := 0; i < len(value); i++ {
		if !validChar(value[i]) {
			return &MalformedFrameError{Field: field, Value: value, Reason: fmt.Sprintf("invalid character %q at %d", value[i], i)}
		}
	}

	return nil
}

// validChar reports whether ch is in the allowed set '#', '0'-'9', 'A'-'H'.
func validChar(ch byte) bool {
	return ch == Marker || (ch >= '0' && ch <= '9') || (ch >= 'A' && ch <= 'H')
}

// Compute calls Default.Compute.
func Compute(header, payload string) (string, error) {
	return Default.Compute(header, payload)
}

// Verify calls Default.Verify.
func Verify(header, payload, claimed string) error {
	return Default.Verify(header, payload, claimed)
}

// Append calls Default.Append.
func Append(data string) (string, error) {
	return Default.Append(data)
}
