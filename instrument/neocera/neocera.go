// Package neocera emulates the Neocera LTC-21 temperature controller.
//
// The controller has two outputs, a heater (1) and an analog output (2),
// and three sensor inputs. It either monitors the sensors or controls the
// heater loop toward its setpoint.
package neocera

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
const Name = "neocera"

// Controller states.
const (
	StateMonitor statemachine.State = "monitor"
	StateControl statemachine.State = "control"
)

// Output indexes.
const (
	HeaterIndex = 0
	AnalogIndex = 1
)

// Error codes recorded for rejected parameters.
const (
	ErrorNone         = 0
	ErrorBadParameter = 1
)

const (
	numSensors = 3
	numOutputs = 2

	// heaterRate is the sensor temperature change per second under control.
	heaterRate = 1.0
)

var (
	controlTypeMin = [numOutputs]int{0, 0}
	controlTypeMax = [numOutputs]int{5, 6}
)

type pid struct {
	p, i, d    float64
	fixedPower float64
	limit      float64 // heater only
	gain       float64 // analog only
	offset     float64 // analog only
}

type mode struct {
	control bool
}

// Emulator is an emulated LTC-21.
type Emulator struct {
	*device.Base
	proto   *stream.Protocol
	machine *statemachine.Machine[mode]

	control      bool
	temperatures [numSensors]float64 // NaN for an unreadable sensor
	units        [numSensors]string
	setpoints    [numOutputs]float64
	sensorSource [numOutputs]int
	controlType  [numOutputs]int
	heaterRange  int
	heater       float64
	pid          [numOutputs]pid
	errorCode    int
}

var (
	_ device.Ticker        = (*Emulator)(nil)
	_ device.StateReporter = (*Emulator)(nil)
)

// New creates a controller in monitor mode.
func New(opts ...stream.Option) (*Emulator, error) {
	e := &Emulator{
		Base:         device.NewBase(Name),
		temperatures: [numSensors]float64{300, 300, math.NaN()},
		units:        [numSensors]string{"K", "K", "K"},
		setpoints:    [numOutputs]float64{300, 300},
		sensorSource: [numOutputs]int{2, 3},
		controlType:  [numOutputs]int{4, 5},
		heaterRange:  3,
		pid: [numOutputs]pid{
			{p: 24.999, i: 32, d: 8, limit: 100},
			{p: 99.999, i: 10, gain: 1},
		},
	}

	m, err := statemachine.New(StateMonitor, func() mode { return mode{control: e.control} },
		statemachine.WithState[mode](StateMonitor, statemachine.Hooks{OnEntry: func() { e.heater = 0 }}),
		statemachine.WithState[mode](StateControl, statemachine.Hooks{InState: e.regulate}),
		statemachine.WithTransition[mode](StateMonitor, StateControl, func(m mode) bool { return m.control }),
		statemachine.WithTransition[mode](StateControl, StateMonitor, func(m mode) bool { return !m.control }),
	)
	if err != nil {
		return nil, err
	}
	e.machine = m

	e.registerAttributes()

	opts = append([]stream.Option{
		stream.WithInTerminator(";"),
		stream.WithOutTerminator(";\n"),
	}, opts...)

	proto, err := stream.NewProtocol(Name, e.commands(), opts...)
	if err != nil {
		return nil, err
	}
	e.proto = proto

	return e, nil
}

// Protocol returns the controller protocol.
func (e *Emulator) Protocol() *stream.Protocol {
	return e.proto
}

// Tick advances the control loop.
func (e *Emulator) Tick(dt time.Duration) error {
	_, err := e.machine.Tick(dt)
	return err
}

// State returns the controller state.
func (e *Emulator) State() string {
	return string(e.machine.Current())
}

func (e *Emulator) registerAttributes() {
	attrs := e.Attributes()
	for i := range numSensors {
		attrs.Register(fmt.Sprintf("temperature_%d", i+1), device.Float(&e.temperatures[i]))
		attrs.Register(fmt.Sprintf("unit_%d", i+1), device.OneOf(&e.units[i], "K", "C", "F", "V"))
	}
	for i := range numOutputs {
		attrs.Register(fmt.Sprintf("setpoint_%d", i+1), device.Float(&e.setpoints[i]))
		attrs.Register(fmt.Sprintf("sensor_source_%d", i+1), device.Int(&e.sensorSource[i]))
		attrs.Register(fmt.Sprintf("control_%d", i+1), device.Int(&e.controlType[i]))
	}
	attrs.Register("heater_range", device.Int(&e.heaterRange))
	attrs.Register("heater", device.Float(&e.heater))
	attrs.Register("control_mode", device.Bool(&e.control))
	attrs.Register("error", device.Int(&e.errorCode))
}

func (e *Emulator) commands() []stream.Command {
	cmd := func(name string) *pattern.Builder {
		return pattern.New(name, pattern.WithArgSeparator(","), pattern.WithIgnore(`\r\n\s`))
	}

	return []stream.Command{
		stream.Bind(cmd("get_state").Escape("QISTATE?").MustBuild(), stream.Query(e.stateText)),
		stream.Bind(cmd("set_state_monitor").Escape("SMON").MustBuild(), stream.Action(func(pattern.Args) error {
			e.control = false
			return nil
		})),
		stream.Bind(cmd("set_state_control").Escape("SCONT").MustBuild(), stream.Action(func(pattern.Args) error {
			e.control = true
			return nil
		})),
		stream.Bind(cmd("get_temperature_and_unit").Escape("QSAMP?").Digit().MustBuild(), e.getTemperature),
		stream.Bind(cmd("get_setpoint_and_unit").Escape("QSETP?").Digit().MustBuild(), e.getSetpoint),
		stream.Bind(cmd("set_setpoint").Escape("SETP").Digit().Float().MustBuild(), e.setSetpoint),
		stream.Bind(cmd("get_output_config").Escape("QOUT?").Digit().MustBuild(), e.getOutputConfig),
		stream.Bind(cmd("set_heater_control").Escape("SHCONT").Digit().MustBuild(), e.setControl(HeaterIndex)),
		stream.Bind(cmd("set_analog_control").Escape("SACONT").Digit().MustBuild(), e.setControl(AnalogIndex)),
		stream.Bind(cmd("get_heater").Escape("QHEAT?").MustBuild(), stream.Query(func() string {
			return fmt.Sprintf("%5.1f", e.heater)
		})),
		stream.Bind(cmd("get_pid").Escape("QPID?").Digit().MustBuild(), e.getPID),
		stream.Bind(cmd("set_pid_heater").Escape("SPID1,").Float().Float().Float().Float().Float().MustBuild(), e.setPIDHeater),
		stream.Bind(cmd("set_pid_analog").Escape("SPID2,").Float().Float().Float().Float().Float().Float().MustBuild(), e.setPIDAnalog),
	}
}

func (e *Emulator) stateText() string {
	if e.machine.Current() == StateControl {
		return "1"
	}

	return "0"
}

// regulate drives the heater loop sensor toward the heater setpoint.
func (e *Emulator) regulate(dt time.Duration) {
	idx := e.sensorSource[HeaterIndex] - 1
	if idx < 0 || idx >= numSensors || math.IsNaN(e.temperatures[idx]) {
		e.heater = 0
		return
	}

	target := e.setpoints[HeaterIndex]
	diff := target - e.temperatures[idx]
	step := heaterRate * dt.Seconds()
	if math.Abs(diff) <= step {
		e.temperatures[idx] = target
	} else {
		e.temperatures[idx] += math.Copysign(step, diff)
	}

	remaining := target - e.temperatures[idx]
	e.heater = math.Max(0, math.Min(e.pid[HeaterIndex].limit, remaining*e.pid[HeaterIndex].p))
}

func (e *Emulator) badParameter() stream.Reply {
	e.errorCode = ErrorBadParameter
	return stream.Text("")
}

// valueWithUnit renders a temperature like value as the controller does,
// e.g. "300.000000K".
func (e *Emulator) valueWithUnit(v float64, unit string) string {
	if math.IsNaN(v) {
		return " ------ "
	}

	return fmt.Sprintf("%8f%1s", v, unit)
}

func (e *Emulator) getTemperature(args pattern.Args) (stream.Reply, error) {
	idx := int(args.Int(0)) - 1
	if idx < 0 || idx >= numSensors {
		return e.badParameter(), nil
	}

	return stream.Text(e.valueWithUnit(e.temperatures[idx], e.units[idx])), nil
}

func (e *Emulator) getSetpoint(args pattern.Args) (stream.Reply, error) {
	idx := int(args.Int(0)) - 1
	if idx < 0 || idx >= numOutputs {
		return e.badParameter(), nil
	}
	unit := "K"
	if src := e.sensorSource[idx] - 1; src >= 0 && src < numSensors {
		unit = e.units[src]
	}

	return stream.Text(e.valueWithUnit(e.setpoints[idx], unit)), nil
}

func (e *Emulator) setSetpoint(args pattern.Args) (stream.Reply, error) {
	idx := int(args.Int(0)) - 1
	if idx < 0 || idx >= numOutputs {
		return e.badParameter(), nil
	}
	e.setpoints[idx] = args.Float(1)

	return stream.NoReply, nil
}

func (e *Emulator) getOutputConfig(args pattern.Args) (stream.Reply, error) {
	idx := int(args.Int(0)) - 1
	if idx < 0 || idx >= numOutputs {
		return e.badParameter(), nil
	}

	config := fmt.Sprintf("%d;%d", e.sensorSource[idx], e.controlType[idx])
	if idx == HeaterIndex {
		config += ";" + strconv.Itoa(e.heaterRange)
	}

	return stream.Text(config), nil
}

func (e *Emulator) setControl(idx int) stream.HandlerFunc {
	return func(args pattern.Args) (stream.Reply, error) {
		control := int(args.Int(0))
		if control < controlTypeMin[idx] || control > controlTypeMax[idx] {
			e.errorCode = ErrorBadParameter
			return stream.NoReply, nil
		}
		e.controlType[idx] = control

		return stream.NoReply, nil
	}
}

func (e *Emulator) getPID(args pattern.Args) (stream.Reply, error) {
	idx := int(args.Int(0)) - 1
	if idx < 0 || idx >= numOutputs {
		e.errorCode = ErrorBadParameter
		return stream.NoReply, nil
	}

	p := e.pid[idx]
	out := fmt.Sprintf("%f;%f;%f;%f", p.p, p.i, p.d, p.fixedPower)
	if idx == HeaterIndex {
		return stream.Textf("%s;%f", out, p.limit), nil
	}

	return stream.Textf("%s;%f;%f", out, p.gain, p.offset), nil
}

func (e *Emulator) setPIDHeater(args pattern.Args) (stream.Reply, error) {
	limit := args.Float(4)
	if limit < 0 || limit > 100 {
		e.errorCode = ErrorBadParameter
		return stream.NoReply, nil
	}

	p := &e.pid[HeaterIndex]
	p.p, p.i, p.d, p.fixedPower = args.Float(0), args.Float(1), args.Float(2), args.Float(3)
	p.limit = limit

	return stream.NoReply, nil
}

func (e *Emulator) setPIDAnalog(args pattern.Args) (stream.Reply, error) {
	p := &e.pid[AnalogIndex]
	p.p, p.i, p.d, p.fixedPower = args.Float(0), args.Float(1), args.Float(2), args.Float(3)
	p.gain, p.offset = args.Float(4), args.Float(5)

	return stream.NoReply, nil
}
