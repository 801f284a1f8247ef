package stream

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-labemu/pattern"
)

// Protocol is a frozen command table together with its wire configuration.
// It is safe for concurrent use as long as its handlers are.
type Protocol struct {
	name  string
	cfg   *Config
	table *CommandTable
}

// NewProtocol registers cmds in a new table and freezes it.
func NewProtocol(name string, cmds []Command, opts ...Option) (*Protocol, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	table := newCommandTable(cfg)
	if err := table.Register(cmds...); err != nil {
		return nil, fmt.Errorf("stream: protocol %s: %w", name, err)
	}
	table.Freeze()

	return &Protocol{name: name, cfg: cfg, table: table}, nil
}

// Name returns the protocol name.
func (p *Protocol) Name() string {
	return p.name
}

// Config returns the protocol configuration.
func (p *Protocol) Config() *Config {
	return p.cfg
}

// Table returns the command table.
func (p *Protocol) Table() *CommandTable {
	return p.table
}

// Dispatch forwards to the command table.
func (p *Protocol) Dispatch(request string) (Reply, error) {
	return p.table.Dispatch(request)
}

// Handle dispatches request and routes any error to the error hook.
// It never returns an error; the reply is whatever the hook decides.
func (p *Protocol) Handle(request string) Reply {
	reply, err := p.table.Dispatch(request)
	if err != nil {
		return p.HandleError(request, err)
	}

	return reply
}

// HandleError passes err to the error hook. Without a hook the reply is NoReply.
func (p *Protocol) HandleError(request string, err error) Reply {
	var (
		noMatch   *NoMatchError
		decodeErr *pattern.ArgumentDecodeError
	)
	switch {
	case errors.As(err, &noMatch), errors.As(err, &decodeErr):
		p.cfg.logger.Debug("stream: unrecognized request", "protocol", p.name, "request", request, "error", err)
	default:
		p.cfg.logger.Warn("stream: request failed", "protocol", p.name, "request", request, "error", err)
	}

	if p.cfg.errorHandler == nil {
		return NoReply
	}

	return p.cfg.errorHandler(request, err)
}

// Encode renders reply with the output terminator. NoReply renders to nil.
func (p *Protocol) Encode(reply Reply) []byte {
	if !reply.HasReply() {
		return nil
	}

	return []byte(reply.Payload() + p.cfg.OutTerminator())
}
