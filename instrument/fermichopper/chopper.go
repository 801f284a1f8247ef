// Package fermichopper emulates the Jülich Fermi chopper controller.
//
// Two protocol generations are supported. Both exchange checksum framed
// words of the form "#<h><4 hex digits><2 checksum digits>":
//
//   - Maps: requests end with "$", replies carry no terminator, checksums
//     skip the leading "#", the status block reflects the simulated rotor.
//   - Legacy: requests end with "$\n", replies with "\n", checksums include
//     the "#" and the status block is a fixed capture.
package fermichopper

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/arloliu/go-labemu/checksum"
	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/statemachine"
	"github.com/arloliu/go-labemu/stream"
)

// Instrument names used in the registry.
const (
	Name       = "fermichopper"
	LegacyName = "fermichopper-legacy"
)

// TimingFreqMHz is the frequency of the delay and gate width counters.
const TimingFreqMHz = 18.0

// Controller commands accepted by "#1" frames.
const (
	CmdRun         = "0001" // drive on, run up to the setpoint
	CmdStop        = "0002" // drive on, brake to standstill
	CmdDriveOff    = "0003" // drive off, rotor coasts
	CmdBearingsOff = "0006"
	CmdBearingsOn  = "0007"
)

var validCommands = []string{CmdRun, CmdStop, CmdDriveOff, CmdBearingsOff, CmdBearingsOn}

// Chopper parameter sets, reported in the status word.
const (
	MerlinLarge = "MERLIN_LARGE"
	HetMari     = "HET_MARI"
	MerlinSmall = "MERLIN_SMALL"
)

// Rotor states.
const (
	StateStopped      statemachine.State = "stopped"
	StateAccelerating statemachine.State = "accelerating"
	StateAtSpeed      statemachine.State = "at_speed"
	StateDecelerating statemachine.State = "decelerating"
)

// DefaultAcceleration is the rotor acceleration with the drive on, in Hz/s.
const DefaultAcceleration = 50.0

// Variant selects the protocol generation.
type Variant int

const (
	Maps Variant = iota
	Legacy
)

type rotor struct {
	speed  float64
	target float64
}

// Emulator is an emulated Fermi chopper controller.
type Emulator struct {
	*device.Base
	proto   *stream.Protocol
	codec   checksum.Codec
	variant Variant
	machine *statemachine.Machine[rotor]

	lastCommand     string
	drive           bool
	running         bool
	magneticBearing bool
	speed           float64 // Hz
	setpoint        int     // Hz
	acceleration    float64 // Hz/s
	delayLow        int     // timing counter words
	delayHigh       int
	gateWidth       int // timing counter ticks
	parameters      string
	autozero1Upper  float64
	autozero2Upper  float64
	autozero1Lower  float64
	autozero2Lower  float64
}

var (
	_ device.Emulator      = (*Emulator)(nil)
	_ device.Ticker        = (*Emulator)(nil)
	_ device.StateReporter = (*Emulator)(nil)
)

// New creates a controller speaking the maps protocol.
func New(opts ...stream.Option) (*Emulator, error) {
	return NewVariant(Maps, opts...)
}

// NewLegacy creates a controller speaking the legacy protocol.
func NewLegacy(opts ...stream.Option) (*Emulator, error) {
	return NewVariant(Legacy, opts...)
}

// NewVariant creates a stopped controller with levitated rotor speaking the
// given protocol generation.
func NewVariant(v Variant, opts ...stream.Option) (*Emulator, error) {
	name := Name
	codec := checksum.New(checksum.SumSkipMarker)
	if v == Legacy {
		name = LegacyName
		codec = checksum.New(checksum.SumAll)
	}

	e := &Emulator{
		Base:            device.NewBase(name),
		codec:           codec,
		variant:         v,
		lastCommand:     "0000",
		magneticBearing: true,
		acceleration:    DefaultAcceleration,
		parameters:      HetMari,
	}

	machine, err := e.newMachine()
	if err != nil {
		return nil, err
	}
	e.machine = machine

	e.registerAttributes()

	var cmds []stream.Command
	if v == Legacy {
		cmds = e.legacyCommands()
	} else {
		cmds = e.mapsCommands()
	}

	opts = append(e.wireOptions(), opts...)
	proto, err := stream.NewProtocol(name, cmds, opts...)
	if err != nil {
		return nil, err
	}
	e.proto = proto

	return e, nil
}

// Protocol returns the chopper protocol.
func (e *Emulator) Protocol() *stream.Protocol {
	return e.proto
}

// Tick advances the rotor simulation.
func (e *Emulator) Tick(dt time.Duration) error {
	_, err := e.machine.Tick(dt)
	return err
}

// State returns the rotor state.
func (e *Emulator) State() string {
	return string(e.machine.Current())
}

func (e *Emulator) registerAttributes() {
	attrs := e.Attributes()
	attrs.Register("speed", device.Float(&e.speed))
	attrs.Register("setpoint", device.Int(&e.setpoint))
	attrs.Register("acceleration", device.Float(&e.acceleration))
	attrs.Register("drive", device.Bool(&e.drive))
	attrs.Register("running", device.Bool(&e.running))
	attrs.Register("magnetic_bearing", device.Bool(&e.magneticBearing))
	attrs.Register("last_command", device.OneOf(&e.lastCommand, append([]string{"0000"}, validCommands...)...))
	attrs.Register("delay_lowword", device.Int(&e.delayLow))
	attrs.Register("delay_highword", device.Int(&e.delayHigh))
	attrs.Register("gate_width", device.Int(&e.gateWidth))
	attrs.Register("parameters", device.OneOf(&e.parameters, MerlinLarge, HetMari, MerlinSmall))
	attrs.Register("autozero_1_upper", device.Float(&e.autozero1Upper))
	attrs.Register("autozero_2_upper", device.Float(&e.autozero2Upper))
	attrs.Register("autozero_1_lower", device.Float(&e.autozero1Lower))
	attrs.Register("autozero_2_lower", device.Float(&e.autozero2Lower))
	attrs.Register("state", device.ReadOnly(e.State))
	attrs.Register("status", device.ReadOnly(func() string { return fmt.Sprintf("%04X", e.statusWord()) }))
}

func (e *Emulator) newMachine() (*statemachine.Machine[rotor], error) {
	spinUp := func(dt time.Duration) {
		e.speed = math.Min(e.target(), e.speed+e.rate()*dt.Seconds())
	}
	spinDown := func(dt time.Duration) {
		e.speed = math.Max(e.target(), e.speed-e.rate()*dt.Seconds())
	}

	atTarget := func(r rotor) bool { return r.speed == r.target && r.target > 0 }
	faster := func(r rotor) bool { return r.target > r.speed }
	slower := func(r rotor) bool { return r.target < r.speed }
	halted := func(r rotor) bool { return r.speed == 0 && r.target == 0 }

	return statemachine.New(StateStopped, e.snapshot,
		statemachine.WithState[rotor](StateAccelerating, statemachine.Hooks{InState: spinUp}),
		statemachine.WithState[rotor](StateAtSpeed, statemachine.Hooks{}),
		statemachine.WithState[rotor](StateDecelerating, statemachine.Hooks{InState: spinDown}),

		statemachine.WithTransition[rotor](StateStopped, StateAccelerating, faster),

		statemachine.WithTransition[rotor](StateAccelerating, StateAtSpeed, atTarget),
		statemachine.WithTransition[rotor](StateAccelerating, StateDecelerating, slower),
		statemachine.WithTransition[rotor](StateAccelerating, StateStopped, halted),

		statemachine.WithTransition[rotor](StateAtSpeed, StateAccelerating, faster),
		statemachine.WithTransition[rotor](StateAtSpeed, StateDecelerating, slower),

		statemachine.WithTransition[rotor](StateDecelerating, StateStopped, halted),
		statemachine.WithTransition[rotor](StateDecelerating, StateAtSpeed, atTarget),
		statemachine.WithTransition[rotor](StateDecelerating, StateAccelerating, faster),
	)
}

func (e *Emulator) snapshot() rotor {
	return rotor{speed: e.speed, target: e.target()}
}

// target is the speed the rotor is driven toward.
func (e *Emulator) target() float64 {
	if e.drive && e.running {
		return float64(e.setpoint)
	}

	return 0
}

// rate is the speed change per second; a coasting rotor slows down slowly.
func (e *Emulator) rate() float64 {
	if e.drive {
		return e.acceleration
	}

	return e.acceleration / 4
}

func (e *Emulator) execute(command string) error {
	if !slices.Contains(validCommands, command) {
		return fmt.Errorf("fermichopper: invalid command %s", command)
	}

	switch command {
	case CmdRun:
		e.drive, e.running = true, true
	case CmdStop:
		e.drive, e.running = true, false
	case CmdDriveOff:
		e.drive, e.running = false, false
	case CmdBearingsOff:
		e.magneticBearing = false
	case CmdBearingsOn:
		e.magneticBearing = true
	}
	e.lastCommand = command

	return nil
}

func (e *Emulator) voltage() float64 {
	if e.drive {
		return 400
	}

	return 0
}

func (e *Emulator) current() float64 {
	if !e.drive {
		return 0
	}

	switch e.machine.Current() {
	case StateAccelerating, StateDecelerating:
		return 1.5
	case StateAtSpeed:
		return 0.5
	default:
		return 0
	}
}

// nominalDelay returns the configured delay in µs.
func (e *Emulator) nominalDelay() float64 {
	return float64(e.delayHigh*65536+e.delayLow) / TimingFreqMHz
}

// actualDelay returns the measured delay in µs, which only settles at speed.
func (e *Emulator) actualDelay() float64 {
	if e.machine.Current() != StateAtSpeed {
		return 0
	}

	return e.nominalDelay()
}

func (e *Emulator) statusWord() int {
	status := 1 // microcontroller ok

	if math.Round(e.speed) == float64(e.setpoint) {
		status |= 2
	}
	if e.magneticBearing {
		status |= 8
	}
	if e.voltage() > 0 {
		status |= 16
	}
	if e.drive {
		status |= 32
	}
	switch e.parameters {
	case MerlinLarge:
		status |= 64
	case HetMari:
		status |= 256
	case MerlinSmall:
		status |= 512
	}
	if e.speed > 600 {
		status |= 1024
	}
	if e.speed > 10 && !e.magneticBearing {
		status |= 2048
	}
	for _, v := range []float64{e.autozero1Upper, e.autozero2Upper, e.autozero1Lower, e.autozero2Lower} {
		if math.Abs(v) > 3 {
			status |= 4096
			break
		}
	}

	return status
}
