package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-labemu/logger"
)

// Default protocol settings.
const (
	DefaultInTerminator  = "\r\n"
	DefaultOutTerminator = "\r\n"
	DefaultMaxFrameSize  = 4096

	// ENQ and ACK are the usual enquiry handshake bytes.
	ENQ byte = 0x05
	ACK byte = 0x06
	// NAK is the usual negative acknowledgement byte.
	NAK byte = 0x15
)

// ErrorHandler turns a dispatch error into the reply sent for request.
// Returning NoReply drops the request silently.
type ErrorHandler func(request string, err error) Reply

// Config describes the wire format of a protocol.
type Config struct {
	inTerminator      string
	outTerminator     string
	outTerminatorFunc func() string
	readTimeout       time.Duration
	maxFrameSize      int

	enquiry bool
	enq     byte
	ack     byte

	errorHandler ErrorHandler
	strict       bool

	logger logger.Logger
}

// Option configures a Config.
type Option interface {
	apply(cfg *Config) error
}

type optFunc func(cfg *Config) error

func (f optFunc) apply(cfg *Config) error {
	return f(cfg)
}

// NewConfig creates a protocol configuration.
//
// Without options requests end with "\r\n", replies get "\r\n" appended,
// reads never time out and dispatch errors produce no reply.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		inTerminator:  DefaultInTerminator,
		outTerminator: DefaultOutTerminator,
		maxFrameSize:  DefaultMaxFrameSize,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// InTerminator returns the input terminator.
func (cfg *Config) InTerminator() string {
	return cfg.inTerminator
}

// OutTerminator returns the output terminator for the current device status.
func (cfg *Config) OutTerminator() string {
	if cfg.outTerminatorFunc != nil {
		return cfg.outTerminatorFunc()
	}

	return cfg.outTerminator
}

// ReadTimeout returns the per-frame read timeout; zero disables it.
func (cfg *Config) ReadTimeout() time.Duration {
	return cfg.readTimeout
}

// MaxFrameSize returns the maximum request size in bytes, terminator excluded.
func (cfg *Config) MaxFrameSize() int {
	return cfg.maxFrameSize
}

// Enquiry returns the enquiry handshake bytes and whether enquiry mode is enabled.
func (cfg *Config) Enquiry() (enq byte, ack byte, enabled bool) {
	return cfg.enq, cfg.ack, cfg.enquiry
}

// StrictMatching reports whether ambiguous matches are rejected.
func (cfg *Config) StrictMatching() bool {
	return cfg.strict
}

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger {
	return cfg.logger
}

// WithInTerminator sets the byte sequence ending every request.
func WithInTerminator(term string) Option {
	return optFunc(func(cfg *Config) error {
		if term == "" {
			return errors.New("stream: input terminator must not be empty")
		}
		cfg.inTerminator = term

		return nil
	})
}

// WithOutTerminator sets the byte sequence appended to every reply.
// An empty terminator is allowed.
func WithOutTerminator(term string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.outTerminator = term
		cfg.outTerminatorFunc = nil

		return nil
	})
}

// WithOutTerminatorFunc sets a function choosing the output terminator per
// reply, e.g. from the device status. It is called with the device lock held.
func WithOutTerminatorFunc(fn func() string) Option {
	return optFunc(func(cfg *Config) error {
		if fn == nil {
			return errors.New("stream: output terminator func must not be nil")
		}
		cfg.outTerminatorFunc = fn

		return nil
	})
}

// WithReadTimeout sets the maximum time to receive one complete request.
// Zero disables the timeout.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return fmt.Errorf("stream: read timeout %v must not be negative", d)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithMaxFrameSize sets the maximum request size in bytes.
func WithMaxFrameSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return errors.New("stream: max frame size must be >= 1")
		}
		cfg.maxFrameSize = n

		return nil
	})
}

// WithEnquiry enables the polled handshake: a command is acknowledged with ack
// and its reply is released by the next enq byte.
func WithEnquiry(enq byte, ack byte) Option {
	return optFunc(func(cfg *Config) error {
		if enq == ack {
			return errors.New("stream: enquiry and acknowledge bytes must differ")
		}
		cfg.enquiry = true
		cfg.enq = enq
		cfg.ack = ack

		return nil
	})
}

// WithErrorHandler sets the hook receiving dispatch errors.
func WithErrorHandler(h ErrorHandler) Option {
	return optFunc(func(cfg *Config) error {
		cfg.errorHandler = h

		return nil
	})
}

// WithStrictMatching rejects requests matching more than one command.
func WithStrictMatching() Option {
	return optFunc(func(cfg *Config) error {
		cfg.strict = true

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("stream: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
