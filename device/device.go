// Package device holds the pieces every instrument emulator shares: the
// device lock, the attribute table, the connected flag and the runner that
// ticks stateful devices at a fixed cadence.
package device

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-labemu/stream"
)

// Emulator is one emulated instrument instance.
//
// Requests and ticks run with the emulator locked.
type Emulator interface {
	sync.Locker
	// Name returns the instrument name.
	Name() string
	// Protocol returns the command protocol served to clients.
	Protocol() *stream.Protocol
	// Attributes returns the named attribute table.
	Attributes() *Attributes
}

// Ticker is implemented by emulators with a state machine.
type Ticker interface {
	// Tick advances the simulation by dt. It is called with the emulator locked.
	Tick(dt time.Duration) error
}

// StateReporter is implemented by emulators exposing their current state name.
type StateReporter interface {
	State() string
}

// Connector is implemented by emulators with a connected flag.
type Connector interface {
	Connected() bool
	SetConnected(connected bool)
}

// Factory creates a fresh emulator instance.
type Factory func() (Emulator, error)

// Base is embedded by instrument emulators.
type Base struct {
	mu        sync.Mutex
	name      string
	attrs     *Attributes
	connected atomic.Bool
}

// NewBase creates a connected device base.
func NewBase(name string) *Base {
	b := &Base{name: name, attrs: NewAttributes()}
	b.connected.Store(true)

	return b
}

// Lock locks the device.
func (b *Base) Lock() {
	b.mu.Lock()
}

// Unlock unlocks the device.
func (b *Base) Unlock() {
	b.mu.Unlock()
}

// Name returns the instrument name.
func (b *Base) Name() string {
	return b.name
}

// Attributes returns the attribute table.
func (b *Base) Attributes() *Attributes {
	return b.attrs
}

// Connected reports whether the device answers requests.
func (b *Base) Connected() bool {
	return b.connected.Load()
}

// SetConnected sets the connected flag.
func (b *Base) SetConnected(connected bool) {
	b.connected.Store(connected)
}
