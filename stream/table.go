package stream

import (
	"fmt"
	"sync"

	"github.com/arloliu/go-labemu/logger"
)

// CommandTable is an ordered set of commands.
//
// Commands are registered before the table becomes active; the first
// Dispatch, or an explicit Freeze, activates it. When several commands match
// one request the earliest registered one wins, unless the table is strict,
// in which case the request is rejected with *AmbiguousMatchError.
type CommandTable struct {
	mu      sync.RWMutex
	entries []Command
	sources map[string]string // pattern source -> command name
	frozen  bool
	strict  bool
	logger  logger.Logger
}

// NewCommandTable creates an empty command table.
// Only the WithStrictMatching and WithLogger options affect the table.
func NewCommandTable(opts ...Option) (*CommandTable, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	return newCommandTable(cfg), nil
}

func newCommandTable(cfg *Config) *CommandTable {
	return &CommandTable{
		sources: make(map[string]string),
		strict:  cfg.strict,
		logger:  cfg.logger,
	}
}

// Register adds commands to the table.
//
// It fails for nil patterns or handlers, for a pattern source already in the
// table and after the table is frozen. On failure no command of the call is
// added.
func (t *CommandTable) Register(cmds ...Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return ErrTableFrozen
	}

	seen := make(map[string]string, len(cmds))
	for _, cmd := range cmds {
		if cmd.pattern == nil || cmd.handler == nil {
			return fmt.Errorf("stream: command %q has no pattern or handler", cmd.Name())
		}
		src := cmd.pattern.String()
		if prev, ok := t.sources[src]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicatePattern, prev, cmd.Name())
		}
		if prev, ok := seen[src]; ok {
			return fmt.Errorf("%w: %s and %s", ErrDuplicatePattern, prev, cmd.Name())
		}
		seen[src] = cmd.Name()
	}

	for _, cmd := range cmds {
		t.sources[cmd.pattern.String()] = cmd.Name()
		t.entries = append(t.entries, cmd)
	}

	return nil
}

// Freeze activates the table. Later Register calls fail.
func (t *CommandTable) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Frozen reports whether the table is active.
func (t *CommandTable) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.frozen
}

// Len returns the number of registered commands.
func (t *CommandTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Names returns the command names in registration order.
func (t *CommandTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, len(t.entries))
	for i, cmd := range t.entries {
		names[i] = cmd.Name()
	}

	return names
}

// Dispatch finds the command matching request, decodes its arguments and
// invokes its handler.
//
// It returns *NoMatchError when nothing matches, *AmbiguousMatchError for
// several matches in strict mode, *pattern.ArgumentDecodeError when captured
// text cannot be decoded and *HandlerError when the handler fails.
func (t *CommandTable) Dispatch(request string) (Reply, error) {
	t.mu.RLock()
	if !t.frozen {
		t.mu.RUnlock()
		t.Freeze()
		t.mu.RLock()
	}
	entries := t.entries
	t.mu.RUnlock()

	var (
		matched Command
		raw     []string
		found   bool
		names   []string
	)
	for _, cmd := range entries {
		captured, ok := cmd.pattern.Match(request)
		if !ok {
			continue
		}
		if !found {
			matched, raw, found = cmd, captured, true
			if !t.strict {
				break
			}
		}
		names = append(names, cmd.Name())
	}

	if !found {
		return NoReply, &NoMatchError{Request: request}
	}
	if len(names) > 1 {
		return NoReply, &AmbiguousMatchError{Request: request, Commands: names}
	}

	args, err := matched.pattern.Decode(raw)
	if err != nil {
		return NoReply, err
	}

	t.logger.Debug("stream: dispatch", "command", matched.Name(), "args", []any(args))

	reply, err := matched.handler(args)
	if err != nil {
		return NoReply, &HandlerError{Command: matched.Name(), Err: err}
	}

	return reply, nil
}
