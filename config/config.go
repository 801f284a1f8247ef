// Package config loads the YAML description of the emulators a host runs.
//
//	log_level: info
//	emulators:
//	  - name: psu
//	    instrument: ngpspsu
//	    listen: 127.0.0.1:57677
//	    tick_interval: 100ms
//	    backdoor: 127.0.0.1:10000
//	  - instrument: tpg26x
//	    serial: /dev/ttyUSB0
//	    baud: 9600
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/instrument"
	"github.com/arloliu/go-labemu/logger"
	"github.com/arloliu/go-labemu/transport"
)

// DefaultTickInterval is used when an emulator sets no tick interval.
const DefaultTickInterval = device.DefaultTickInterval

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the host configuration.
type Config struct {
	LogLevel  string     `yaml:"log_level"`
	Emulators []Emulator `yaml:"emulators"`
}

// Emulator describes one emulated instrument and how it is exposed. Exactly
// one of Listen and Serial must be set.
type Emulator struct {
	// Name identifies the emulator in logs; defaults to the instrument name.
	Name       string `yaml:"name"`
	Instrument string `yaml:"instrument"`

	// Listen is the TCP address served by a server, e.g. "127.0.0.1:57677".
	Listen      string `yaml:"listen"`
	MaxSessions int    `yaml:"max_sessions"`

	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
	Parity string `yaml:"parity"`

	TickInterval time.Duration `yaml:"tick_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`

	// Backdoor is the optional TCP address of the attribute control channel.
	Backdoor string `yaml:"backdoor"`
}

// Level returns the configured log level, InfoLevel when unset.
func (c *Config) Level() logger.Level {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

// LoadError reports a configuration file that could not be read or parsed.
type LoadError struct {
	File  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config: load %s: %v", e.File, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ValidationError reports an invalid field of one emulator entry.
type ValidationError struct {
	Index  int // position in the emulators list, -1 for top level fields
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("config: emulators[%d].%s: %s", e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}

		return nil, &LoadError{File: path, Cause: err}
	}

	return cfg, nil
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.LogLevel != "" {
		if _, ok := logger.ParseLevel(c.LogLevel); !ok {
			return &ValidationError{Index: -1, Field: "log_level", Reason: fmt.Sprintf("unknown level %q", c.LogLevel)}
		}
	}
	if len(c.Emulators) == 0 {
		return &ValidationError{Index: -1, Field: "emulators", Reason: "at least one emulator is required"}
	}

	names := make(map[string]int, len(c.Emulators))
	for i := range c.Emulators {
		e := &c.Emulators[i]
		if err := e.validate(i); err != nil {
			return err
		}

		if prev, ok := names[e.Name]; ok {
			return &ValidationError{Index: i, Field: "name", Reason: fmt.Sprintf("%q already used by emulators[%d]", e.Name, prev)}
		}
		names[e.Name] = i
	}

	return nil
}

// validate checks the entry and fills in defaults.
func (e *Emulator) validate(i int) error {
	fail := func(field, reason string) error {
		return &ValidationError{Index: i, Field: field, Reason: reason}
	}

	if e.Instrument == "" {
		return fail("instrument", "required")
	}
	if _, ok := instrument.Lookup(e.Instrument); !ok {
		return fail("instrument", fmt.Sprintf("unknown instrument %q", e.Instrument))
	}
	if e.Name == "" {
		e.Name = e.Instrument
	}

	switch {
	case e.Listen == "" && e.Serial == "":
		return fail("listen", "one of listen or serial is required")
	case e.Listen != "" && e.Serial != "":
		return fail("serial", "listen and serial are mutually exclusive")
	case e.Listen != "":
		if err := checkAddress(e.Listen); err != nil {
			return fail("listen", err.Error())
		}
	default:
		if e.Baud == 0 {
			e.Baud = transport.DefaultBaudRate
		}
		if e.Baud < 0 {
			return fail("baud", "must be positive")
		}
		switch e.Parity {
		case "", "N", "E", "O", "M", "S":
		default:
			return fail("parity", fmt.Sprintf("unknown parity %q", e.Parity))
		}
	}

	if e.MaxSessions < 0 {
		return fail("max_sessions", "must not be negative")
	}
	if e.TickInterval < 0 {
		return fail("tick_interval", "must not be negative")
	}
	if e.TickInterval == 0 {
		e.TickInterval = DefaultTickInterval
	}
	if e.ReadTimeout < 0 {
		return fail("read_timeout", "must not be negative")
	}

	if e.Backdoor != "" {
		if err := checkAddress(e.Backdoor); err != nil {
			return fail("backdoor", err.Error())
		}
	}

	return nil
}

// HostPort splits a validated address into host and numeric port.
func HostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}

	return host, port, nil
}

func checkAddress(addr string) error {
	_, _, err := HostPort(addr)
	return err
}
