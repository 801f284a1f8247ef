// Package instrument is the registry of the bundled instrument emulators.
package instrument

import (
	"fmt"
	"slices"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/instrument/ag33220a"
	"github.com/arloliu/go-labemu/instrument/ccd100"
	"github.com/arloliu/go-labemu/instrument/fermichopper"
	"github.com/arloliu/go-labemu/instrument/mercuryitc"
	"github.com/arloliu/go-labemu/instrument/neocera"
	"github.com/arloliu/go-labemu/instrument/ngpspsu"
	"github.com/arloliu/go-labemu/instrument/tpg26x"
	"github.com/arloliu/go-labemu/stream"
)

// Constructor creates one instrument instance. The options override the
// instrument's own wire settings.
type Constructor func(opts ...stream.Option) (device.Emulator, error)

// UnknownInstrumentError is returned for a name that is not registered.
type UnknownInstrumentError struct {
	Name string
}

func (e *UnknownInstrumentError) Error() string {
	return fmt.Sprintf("instrument: unknown instrument %q", e.Name)
}

func adapt[E device.Emulator](fn func(opts ...stream.Option) (E, error)) Constructor {
	return func(opts ...stream.Option) (device.Emulator, error) {
		e, err := fn(opts...)
		if err != nil {
			return nil, err
		}

		return e, nil
	}
}

var registry = map[string]Constructor{
	ag33220a.Name:           adapt(ag33220a.New),
	ccd100.Name:             adapt(ccd100.New),
	fermichopper.Name:       adapt(fermichopper.New),
	fermichopper.LegacyName: adapt(fermichopper.NewLegacy),
	mercuryitc.Name:         adapt(mercuryitc.New),
	neocera.Name:            adapt(neocera.New),
	ngpspsu.Name:            adapt(ngpspsu.New),
	tpg26x.Name:             adapt(tpg26x.New),
}

// Names returns the registered instrument names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, bool) {
	c, ok := registry[name]
	return c, ok
}

// New creates an instance of the named instrument.
func New(name string, opts ...stream.Option) (device.Emulator, error) {
	c, ok := registry[name]
	if !ok {
		return nil, &UnknownInstrumentError{Name: name}
	}

	return c(opts...)
}

// Factory returns a device factory creating the named instrument with opts,
// as used by the server for every accepted connection.
func Factory(name string, opts ...stream.Option) (device.Factory, error) {
	c, ok := registry[name]
	if !ok {
		return nil, &UnknownInstrumentError{Name: name}
	}

	return func() (device.Emulator, error) {
		return c(opts...)
	}, nil
}
