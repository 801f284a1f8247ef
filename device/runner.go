package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-labemu/internal/task"
	"github.com/arloliu/go-labemu/logger"
)

// DefaultTickInterval is the default cadence of a Runner.
const DefaultTickInterval = 100 * time.Millisecond

// ErrNotTicker is returned by NewRunner for emulators without state machine.
var ErrNotTicker = errors.New("device: emulator does not implement Ticker")

// RunnerOption configures a Runner.
type RunnerOption func(r *Runner) error

// WithTickInterval sets the tick cadence.
func WithTickInterval(d time.Duration) RunnerOption {
	return func(r *Runner) error {
		if d <= 0 {
			return fmt.Errorf("device: tick interval %v must be positive", d)
		}
		r.interval = d

		return nil
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) error {
		if l == nil {
			return errors.New("device: logger must not be nil")
		}
		r.logger = l

		return nil
	}
}

// Runner ticks an emulator at a fixed cadence.
//
// Each tick locks the emulator, so ticks never interleave with request
// handling. A tick error, such as a failing transition guard, stops the
// runner; it is logged and reported by Err.
type Runner struct {
	emu      Emulator
	ticker   Ticker
	interval time.Duration
	logger   logger.Logger
	mgr      *task.Manager

	mu   sync.Mutex
	last time.Time
	err  error
	done chan struct{}
	once sync.Once
}

// NewRunner creates a runner for emu, which must implement Ticker.
func NewRunner(ctx context.Context, emu Emulator, opts ...RunnerOption) (*Runner, error) {
	ticker, ok := emu.(Ticker)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotTicker, emu.Name())
	}

	r := &Runner{
		emu:      emu,
		ticker:   ticker,
		interval: DefaultTickInterval,
		logger:   logger.GetLogger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.mgr = task.NewManager(ctx, r.logger)

	return r, nil
}

// Start starts ticking.
func (r *Runner) Start() error {
	r.mu.Lock()
	r.last = time.Now()
	r.mu.Unlock()

	return r.mgr.StartInterval("tick-"+r.emu.Name(), r.tickTask, r.interval, false)
}

// Stop stops ticking and waits for an in-flight tick to finish.
func (r *Runner) Stop() {
	r.mgr.Stop()
	r.mgr.Wait()
	r.markDone()
}

// Done is closed when the runner stops, either by Stop or by a tick error.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Err returns the tick error that stopped the runner, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Step runs one tick of duration dt synchronously.
func (r *Runner) Step(dt time.Duration) error {
	r.emu.Lock()
	err := r.ticker.Tick(dt)
	r.emu.Unlock()

	if err != nil {
		r.logger.Error("device: tick failed, runner stopped", "device", r.emu.Name(), "error", err)

		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}

	return err
}

func (r *Runner) tickTask() bool {
	now := time.Now()

	r.mu.Lock()
	dt := now.Sub(r.last)
	r.last = now
	r.mu.Unlock()

	if err := r.Step(dt); err != nil {
		r.markDone()
		return false
	}

	return true
}

func (r *Runner) markDone() {
	r.once.Do(func() { close(r.done) })
}
