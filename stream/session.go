package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-labemu/logger"
)

// SessionOption configures a Session.
type SessionOption func(s *Session)

// WithSessionID sets the identifier used in log records.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

// WithLocker sets the lock held while a request is dispatched and its reply
// encoded, normally the device being served.
func WithLocker(l sync.Locker) SessionOption {
	return func(s *Session) {
		s.locker = l
	}
}

// Session serves one Protocol over one transport.
//
// Requests are read and dispatched serially. In enquiry mode the session keeps
// the reply of the last command until the peer polls for it.
type Session struct {
	id      string
	rw      io.ReadWriteCloser
	proto   *Protocol
	locker  sync.Locker
	reader  *FrameReader
	logger  logger.Logger
	metrics SessionMetrics

	// enquiry state, guarded by the serial request loop
	pending bool
	latched Reply

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session reading requests from rw.
func NewSession(rw io.ReadWriteCloser, proto *Protocol, opts ...SessionOption) *Session {
	s := &Session{
		rw:     rw,
		proto:  proto,
		logger: proto.cfg.logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reader = NewFrameReader(rw, proto.cfg)
	s.reader.onDrop = func(int) { s.metrics.incDroppedFrameCount() }

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Protocol returns the served protocol.
func (s *Session) Protocol() *Protocol {
	return s.proto
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *SessionMetrics {
	return &s.metrics
}

// Serve reads and handles requests until the transport is closed, the read
// timeout expires or ctx is canceled.
//
// A peer closing the transport ends the session with a nil error. A read
// timeout closes the transport and returns the timeout error; cancellation
// returns ctx.Err(). A request being handled when ctx is canceled completes.
func (s *Session) Serve(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	s.logger.Debug("stream: session started", "session", s.id, "protocol", s.proto.name)

	for {
		request, err := s.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrFrameTooLong) {
				s.logger.Warn("stream: frame too long, discarded", "session", s.id, "max", s.proto.cfg.maxFrameSize)
				continue
			}

			return s.endErr(ctx, err)
		}

		out := s.Process(request)
		if len(out) == 0 {
			continue
		}
		if _, err := s.rw.Write(out); err != nil {
			return s.endErr(ctx, err)
		}
		s.metrics.incReplyCount()
	}
}

func (s *Session) endErr(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		s.logger.Debug("stream: session canceled", "session", s.id)
		return ctx.Err()

	case isTimeoutError(err):
		s.logger.Info("stream: read timeout, closing session", "session", s.id)
		_ = s.Close()

		return fmt.Errorf("stream: session %s: %w", s.id, err)

	case s.closed.Load() || isDisconnectError(err):
		s.logger.Debug("stream: session closed", "session", s.id, "reason", err)
		return nil

	default:
		s.logger.Error("stream: session failed", "session", s.id, "error", err)
		_ = s.Close()

		return fmt.Errorf("stream: session %s: %w", s.id, err)
	}
}

// Process handles one request and returns the encoded output, nil when
// nothing is to be written.
func (s *Session) Process(request string) []byte {
	s.metrics.incRequestCount()

	if s.locker != nil {
		s.locker.Lock()
		defer s.locker.Unlock()
	}

	enq, ack, enquiry := s.proto.cfg.Enquiry()
	if enquiry && len(request) == 1 && request[0] == enq {
		s.metrics.incEnquiryCount()
		if !s.pending {
			return s.proto.Encode(s.handleError(request, ErrNoPendingEnquiry))
		}
		reply := s.latched
		s.pending = false
		s.latched = NoReply

		return s.proto.Encode(reply)
	}

	reply, err := s.proto.Dispatch(request)
	if err != nil {
		s.pending = false
		s.latched = NoReply

		return s.proto.Encode(s.handleError(request, err))
	}

	if enquiry {
		s.pending = true
		s.latched = reply

		return s.proto.Encode(Text(string([]byte{ack})))
	}

	return s.proto.Encode(reply)
}

func (s *Session) handleError(request string, err error) Reply {
	s.metrics.countError(err)

	return s.proto.HandleError(request, err)
}

// Close closes the transport. It is safe to call Close more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.rw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})

	return s.closeErr
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDisconnectError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "connection reset by peer") || strings.Contains(msg, "broken pipe")
}
