// Package transport adapts non-network byte streams to the transport contract
// of stream sessions: an io.ReadWriteCloser with an optional SetReadDeadline.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when no baud rate is configured.
const DefaultBaudRate = 9600

// SerialOption configures the serial line mode.
type SerialOption func(mode *serial.Mode) error

// WithDataBits sets the number of data bits (5 to 8).
func WithDataBits(bits int) SerialOption {
	return func(mode *serial.Mode) error {
		if bits < 5 || bits > 8 {
			return fmt.Errorf("transport: invalid data bits %d", bits)
		}
		mode.DataBits = bits

		return nil
	}
}

// WithParity sets the parity from its letter: "N", "E", "O", "M" or "S".
func WithParity(parity string) SerialOption {
	return func(mode *serial.Mode) error {
		switch parity {
		case "N", "":
			mode.Parity = serial.NoParity
		case "E":
			mode.Parity = serial.EvenParity
		case "O":
			mode.Parity = serial.OddParity
		case "M":
			mode.Parity = serial.MarkParity
		case "S":
			mode.Parity = serial.SpaceParity
		default:
			return fmt.Errorf("transport: invalid parity %q", parity)
		}

		return nil
	}
}

// WithTwoStopBits selects two stop bits instead of one.
func WithTwoStopBits() SerialOption {
	return func(mode *serial.Mode) error {
		mode.StopBits = serial.TwoStopBits
		return nil
	}
}

// port is the subset of serial.Port used by Port.
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Port is a serial port with net.Conn style read deadlines.
//
// The underlying driver reports an expired read timeout as a zero length read;
// Port turns that into os.ErrDeadlineExceeded once the deadline has passed.
type Port struct {
	path string
	p    port

	mu       sync.Mutex
	deadline time.Time
	closed   atomic.Bool
}

// OpenSerial opens the serial device at path with 8N1 framing unless changed
// by opts. A zero baud rate selects DefaultBaudRate.
func OpenSerial(path string, baud int, opts ...SerialOption) (*Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	if baud < 0 {
		return nil, fmt.Errorf("transport: invalid baud rate %d", baud)
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	for _, opt := range opts {
		if err := opt(mode); err != nil {
			return nil, err
		}
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	return newPort(path, p), nil
}

func newPort(path string, p port) *Port {
	return &Port{path: path, p: p}
}

// Path returns the device path.
func (sp *Port) Path() string {
	return sp.path
}

// Read reads from the port, honouring the read deadline.
func (sp *Port) Read(b []byte) (int, error) {
	for {
		if sp.closed.Load() {
			return 0, net.ErrClosed
		}

		n, err := sp.p.Read(b)
		if err != nil {
			if sp.closed.Load() {
				return n, net.ErrClosed
			}

			return n, err
		}
		if n > 0 || len(b) == 0 {
			return n, nil
		}

		deadline := sp.getDeadline()
		if deadline.IsZero() {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		if err := sp.p.SetReadTimeout(remaining); err != nil {
			return 0, err
		}
	}
}

// Write writes to the port.
func (sp *Port) Write(b []byte) (int, error) {
	if sp.closed.Load() {
		return 0, net.ErrClosed
	}

	return sp.p.Write(b)
}

// SetReadDeadline sets the deadline for future Read calls. A zero value
// disables the deadline.
func (sp *Port) SetReadDeadline(t time.Time) error {
	sp.mu.Lock()
	sp.deadline = t
	sp.mu.Unlock()

	if t.IsZero() {
		return sp.p.SetReadTimeout(serial.NoTimeout)
	}

	remaining := time.Until(t)
	if remaining <= 0 {
		// the driver treats zero as "return immediately"
		remaining = time.Millisecond
	}

	return sp.p.SetReadTimeout(remaining)
}

// Close closes the port. Pending reads return net.ErrClosed.
func (sp *Port) Close() error {
	if sp.closed.Swap(true) {
		return nil
	}

	if err := sp.p.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close %s: %w", sp.path, err)
	}

	return nil
}

func (sp *Port) getDeadline() time.Time {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.deadline
}
