package stream

import (
	"bufio"
	"bytes"
	"io"
	"time"
)

// readDeadliner is implemented by transports supporting read deadlines, e.g. net.Conn.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// FrameReader splits a byte stream into requests.
//
// In terminator mode bytes are accumulated until the input terminator, which
// is stripped. In enquiry mode an enquiry byte at the start of a frame is a
// complete request of its own; a terminator directly following it is
// swallowed.
//
// This type is NOT goroutine-safe.
type FrameReader struct {
	r        *bufio.Reader
	deadline readDeadliner
	cfg      *Config
	term     []byte
	buf      []byte
	afterEnq bool

	// onDrop is called when a partial or oversized frame is discarded.
	onDrop func(size int)
}

// NewFrameReader creates a FrameReader reading from r.
//
// When r supports SetReadDeadline, the configured read timeout bounds the
// time to receive each complete frame.
func NewFrameReader(r io.Reader, cfg *Config) *FrameReader {
	fr := &FrameReader{
		r:    bufio.NewReader(r),
		cfg:  cfg,
		term: []byte(cfg.inTerminator),
	}
	if dl, ok := r.(readDeadliner); ok {
		fr.deadline = dl
	}

	return fr
}

// ReadFrame returns the next request without its terminator.
//
// It returns ErrFrameTooLong for a frame exceeding the maximum size; the
// frame is consumed and reading can continue. Any read error, including a
// timeout, abandons the partial frame and is returned as is.
func (fr *FrameReader) ReadFrame() (string, error) {
	if err := fr.armDeadline(); err != nil {
		return "", err
	}

	enq, _, enquiry := fr.cfg.Enquiry()
	maxSize := fr.cfg.maxFrameSize
	tooLong := false
	fr.buf = fr.buf[:0]

	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			if len(fr.buf) > 0 || tooLong {
				fr.drop(len(fr.buf))
			}
			fr.buf = fr.buf[:0]

			return "", err
		}

		if enquiry && b == enq && len(fr.buf) == 0 && !tooLong {
			fr.afterEnq = true
			return string([]byte{enq}), nil
		}

		fr.buf = append(fr.buf, b)
		if !bytes.HasSuffix(fr.buf, fr.term) {
			if len(fr.buf) > maxSize+len(fr.term) {
				// keep only a possible terminator prefix
				keep := len(fr.term) - 1
				copy(fr.buf, fr.buf[len(fr.buf)-keep:])
				fr.buf = fr.buf[:keep]
				tooLong = true
			}

			continue
		}

		frame := fr.buf[:len(fr.buf)-len(fr.term)]
		switch {
		case tooLong || len(frame) > maxSize:
			fr.drop(len(frame))
			fr.afterEnq = false

			return "", ErrFrameTooLong

		case len(frame) == 0 && fr.afterEnq:
			fr.afterEnq = false
			fr.buf = fr.buf[:0]

			continue
		}

		fr.afterEnq = false

		return string(frame), nil
	}
}

func (fr *FrameReader) armDeadline() error {
	if fr.deadline == nil {
		return nil
	}
	if d := fr.cfg.readTimeout; d > 0 {
		return fr.deadline.SetReadDeadline(time.Now().Add(d))
	}

	return fr.deadline.SetReadDeadline(time.Time{})
}

func (fr *FrameReader) drop(size int) {
	fr.cfg.logger.Debug("stream: drop frame", "size", size)
	if fr.onDrop != nil {
		fr.onDrop(size)
	}
}
