package checksum

import (
	"fmt"
	"strings"
)

// Frame is one checksum protected field.
type Frame struct {
	Header   string // two characters, marker included
	Payload  string // four characters
	Checksum string // two hexadecimal characters
}

// String renders the frame in wire format.
func (f Frame) String() string {
	return f.Header + f.Payload + f.Checksum
}

// NewFrame builds a frame with a freshly computed checksum.
func (c Codec) NewFrame(header, payload string) (Frame, error) {
	sum, err := c.Compute(header, payload)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Header: header, Payload: payload, Checksum: sum}, nil
}

// ParseFrame splits an eight character frame and verifies its checksum.
func (c Codec) ParseFrame(s string) (Frame, error) {
	if len(s) != FrameSize {
		return Frame{}, &MalformedFrameError{Field: "frame", Value: s, Reason: fmt.Sprintf("length %d, want %d", len(s), FrameSize)}
	}
	if s[0] != Marker {
		return Frame{}, &MalformedFrameError{Field: "frame", Value: s, Reason: "missing marker"}
	}

	f := Frame{
		Header:   s[:HeaderSize],
		Payload:  s[HeaderSize:DataSize],
		Checksum: s[DataSize:],
	}
	if err := c.Verify(f.Header, f.Payload, f.Checksum); err != nil {
		return Frame{}, err
	}

	return f, nil
}

// ParseFrames splits s with SplitFrames and parses every frame.
func (c Codec) ParseFrames(s string, end string) ([]Frame, error) {
	parts, err := SplitFrames(s, end)
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, 0, len(parts))
	for _, part := range parts {
		f, err := c.ParseFrame(part)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	return frames, nil
}

// ParseFrame calls Default.ParseFrame.
func ParseFrame(s string) (Frame, error) {
	return Default.ParseFrame(s)
}

// SplitFrames removes the end marker from s and cuts the remainder into
// eight character frames. It does not verify checksums.
func SplitFrames(s string, end string) ([]string, error) {
	if end != "" {
		if !strings.HasSuffix(s, end) {
			return nil, &MalformedFrameError{Field: "frame", Value: s, Reason: fmt.Sprintf("missing end marker %q", end)}
		}
		s = strings.TrimSuffix(s, end)
	}
	if len(s)%FrameSize != 0 {
		return nil, &MalformedFrameError{Field: "frame", Value: s, Reason: fmt.Sprintf("length %d is not a multiple of %d", len(s), FrameSize)}
	}

	frames := make([]string, 0, len(s)/FrameSize)
	for i := 0; i < len(s); i += FrameSize {
		frames = append(frames, s[i:i+FrameSize])
	}

	return frames, nil
}
