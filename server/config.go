package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/logger"
)

// Default server settings.
const (
	DefaultAcceptTimeout = 1 * time.Second // accept deadline per iteration
	DefaultMaxSessions   = 16

	MinAcceptTimeout = 10 * time.Millisecond
	MaxAcceptTimeout = 30 * time.Second
)

// Config holds the configuration of a Server.
type Config struct {
	host string
	port int

	acceptTimeout time.Duration
	maxSessions   int
	tickInterval  time.Duration

	logger logger.Logger
}

// Option configures a server Config.
type Option interface {
	apply(cfg *Config) error
}

type optFunc func(cfg *Config) error

func (f optFunc) apply(cfg *Config) error {
	return f(cfg)
}

// NewConfig creates a server configuration listening on host:port.
//
// An empty host listens on every interface; port 0 picks a free port, which
// is reported by Server.Addr once the server is started.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	cfg := &Config{
		host:          host,
		acceptTimeout: DefaultAcceptTimeout,
		maxSessions:   DefaultMaxSessions,
		tickInterval:  device.DefaultTickInterval,
		logger:        logger.GetLogger(),
	}

	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("server: invalid port %d", port)
	}
	cfg.port = port

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

// WithAcceptTimeout sets how long one Accept call may block before the
// accept loop checks for shutdown.
func WithAcceptTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinAcceptTimeout || d > MaxAcceptTimeout {
			return fmt.Errorf("server: accept timeout %v out of range [%v, %v]", d, MinAcceptTimeout, MaxAcceptTimeout)
		}
		cfg.acceptTimeout = d

		return nil
	})
}

// WithMaxSessions limits the number of concurrent sessions. Connections over
// the limit are closed right after accept.
func WithMaxSessions(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n <= 0 {
			return fmt.Errorf("server: max sessions %d must be positive", n)
		}
		cfg.maxSessions = n

		return nil
	})
}

// WithTickInterval sets the cadence of the runners of stateful devices.
func WithTickInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("server: tick interval %v must be positive", d)
		}
		cfg.tickInterval = d

		return nil
	})
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("server: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// Address returns the configured listen address.
func (cfg *Config) Address() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// AcceptTimeout returns the accept deadline per iteration.
func (cfg *Config) AcceptTimeout() time.Duration {
	return cfg.acceptTimeout
}

// MaxSessions returns the session limit.
func (cfg *Config) MaxSessions() int {
	return cfg.maxSessions
}

// TickInterval returns the runner cadence.
func (cfg *Config) TickInterval() time.Duration {
	return cfg.tickInterval
}

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger {
	return cfg.logger
}
