// Package ngpspsu emulates the OCEM NGPS high precision power supply.
//
// Commands are answered either with a data reply ("#MRV:1.500000") or with
// an acknowledgement, "#AK" on success and "#NAK:nn" with an error code.
package ngpspsu

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/statemachine"
	"github.com/arloliu/go-labemu/stream"
)

// Name is the instrument name used in the registry.
const Name = "ngpspsu"

// DefaultModel is the model number and firmware version reported by VER.
const DefaultModel = "NGPS 100-50:0.9.01"

// Negative acknowledgement codes.
const (
	NakOutOfRange = 4
	NakAlreadyOn  = 9
	NakOff        = 13
)

// Output states.
const (
	StateOff statemachine.State = "off"
	StateOn  statemachine.State = "on"
)

// Status word bits.
const (
	StatusOn    = 1 << 0
	StatusFault = 1 << 1
)

const (
	// MaxVoltage bounds the voltage setpoint magnitude.
	MaxVoltage = 100.0
	// DefaultSlewRate is the output voltage change per second.
	DefaultSlewRate = 10.0
)

type output struct {
	on bool
}

// Emulator is an emulated NGPS power supply.
type Emulator struct {
	*device.Base
	proto   *stream.Protocol
	machine *statemachine.Machine[output]

	model           string
	on              bool
	fault           bool
	voltage         float64
	voltageSetpoint float64
	slewRate        float64
}

var (
	_ device.Ticker        = (*Emulator)(nil)
	_ device.StateReporter = (*Emulator)(nil)
)

// New creates a supply with its output off.
func New(opts ...stream.Option) (*Emulator, error) {
	e := &Emulator{
		Base:     device.NewBase(Name),
		model:    DefaultModel,
		slewRate: DefaultSlewRate,
	}

	m, err := statemachine.New(StateOff, func() output { return output{on: e.on} },
		statemachine.WithState[output](StateOff, statemachine.Hooks{InState: func(dt time.Duration) {
			e.voltage = approach(e.voltage, 0, e.slewRate*dt.Seconds())
		}}),
		statemachine.WithState[output](StateOn, statemachine.Hooks{InState: func(dt time.Duration) {
			e.voltage = approach(e.voltage, e.voltageSetpoint, e.slewRate*dt.Seconds())
		}}),
		statemachine.WithTransition[output](StateOff, StateOn, func(o output) bool { return o.on }),
		statemachine.WithTransition[output](StateOn, StateOff, func(o output) bool { return !o.on }),
	)
	if err != nil {
		return nil, err
	}
	e.machine = m

	attrs := e.Attributes()
	attrs.Register("model", device.String(&e.model))
	attrs.Register("on", device.Bool(&e.on))
	attrs.Register("fault", device.Bool(&e.fault))
	attrs.Register("voltage", device.Float(&e.voltage))
	attrs.Register("voltage_setpoint", device.Float(&e.voltageSetpoint))
	attrs.Register("slew_rate", device.Float(&e.slewRate))
	attrs.Register("status", device.ReadOnly(e.status))

	cmds := []stream.Command{
		stream.Bind(literal("get_version", "VER"), stream.Query(func() string { return "#VER:" + e.model })),
		stream.Bind(literal("start", "MON"), e.ack(e.start)),
		stream.Bind(literal("stop", "MOFF"), e.ack(e.stop)),
		stream.Bind(literal("read_status", "MST"), stream.Query(func() string { return "#MST:" + e.status() })),
		stream.Bind(literal("reset", "MRESET"), e.ack(e.reset)),
		stream.Bind(literal("read_voltage", "MRV"), stream.Query(func() string { return "#MRV:" + formatValue(e.voltage) })),
		stream.Bind(pattern.New("set_voltage_setpoint").Escape("MWV:").Float().EOS().MustBuild(), e.setVoltageSetpoint),
		stream.Bind(literal("read_voltage_setpoint", "MWV:?"), stream.Query(func() string { return "#MWV:" + formatValue(e.voltageSetpoint) })),
	}

	opts = append([]stream.Option{
		stream.WithInTerminator("\r"),
		stream.WithOutTerminator("\r\n"),
	}, opts...)

	proto, err := stream.NewProtocol(Name, cmds, opts...)
	if err != nil {
		return nil, err
	}
	e.proto = proto

	return e, nil
}

// Protocol returns the supply protocol.
func (e *Emulator) Protocol() *stream.Protocol {
	return e.proto
}

// Tick moves the output voltage toward its target.
func (e *Emulator) Tick(dt time.Duration) error {
	_, err := e.machine.Tick(dt)
	return err
}

// State returns the output state.
func (e *Emulator) State() string {
	return string(e.machine.Current())
}

// ack turns an operation returning a NAK code (0 for success) into the reply.
func (e *Emulator) ack(op func() int) stream.HandlerFunc {
	return func(pattern.Args) (stream.Reply, error) {
		return ackReply(op()), nil
	}
}

func (e *Emulator) start() int {
	if e.on {
		return NakAlreadyOn
	}
	e.on = true

	return 0
}

func (e *Emulator) stop() int {
	if !e.on {
		return NakOff
	}
	e.on = false

	return 0
}

func (e *Emulator) reset() int {
	e.on = false
	e.fault = false
	e.voltageSetpoint = 0

	return 0
}

func (e *Emulator) setVoltageSetpoint(args pattern.Args) (stream.Reply, error) {
	if !e.on {
		return ackReply(NakOff), nil
	}

	v := args.Float(0)
	if math.Abs(v) > MaxVoltage {
		return ackReply(NakOutOfRange), nil
	}
	e.voltageSetpoint = v

	return ackReply(0), nil
}

// status renders the status word as eight hexadecimal digits.
func (e *Emulator) status() string {
	var word uint32
	if e.on {
		word |= StatusOn
	}
	if e.fault {
		word |= StatusFault
	}

	return fmt.Sprintf("%08X", word)
}

func ackReply(code int) stream.Reply {
	if code == 0 {
		return stream.Text("#AK")
	}

	return stream.Textf("#NAK:%02d", code)
}

func literal(name, cmd string) *pattern.Pattern {
	return pattern.New(name).Escape(cmd).EOS().MustBuild()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// approach moves v toward target by at most step.
func approach(v, target, step float64) float64 {
	if v < target {
		return math.Min(target, v+step)
	}

	return math.Max(target, v-step)
}
