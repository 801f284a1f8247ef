// Package mercuryitc emulates the Oxford Instruments Mercury iTC
// temperature controller.
//
// The controller exposes a tree of daughter-board channels addressed as
// "DEV:<id>:<type>". Requests may carry the ISOBUS address prefix "@1",
// which is accepted and ignored. Invalid requests are answered with
// "<request>:INVALID".
package mercuryitc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
)

// Name is the instrument name used in the registry.
const Name = "mercuryitc"

// IsobusPrefix is the optional address prefix of every request.
const IsobusPrefix = "@1"

// Channel types.
const (
	TypeTemp   = "TEMP"
	TypePres   = "PRES"
	TypeHeater = "HTR"
	TypeAux    = "AUX"
)

type channel struct {
	id       string
	kind     string
	nickname string

	// control loop, TEMP and PRES channels
	heater          string
	aux             string
	p, i, d         float64
	autopid         bool
	autopidFile     string
	heaterAuto      bool
	heaterPercent   float64
	gasFlowAuto     bool
	calibrationFile string

	temperature   float64 // K
	temperatureSP float64
	resistance    float64 // ohm
	pressure      float64 // mbar
	pressureSP    float64
	sensorVoltage float64

	// HTR channels
	voltageLimit float64
	voltage      float64
	current      float64
	power        float64

	// AUX channels
	gasFlow float64 // percent
}

// Emulator is an emulated Mercury iTC.
type Emulator struct {
	*device.Base
	proto *stream.Protocol

	order    []string
	channels map[string]*channel
}

var _ device.Emulator = (*Emulator)(nil)

// New creates a controller fitted with one temperature loop (MB0 with
// heater MB1 and needle valve DB5) and one pressure loop (DB8 with heater
// DB1 sharing the valve).
func New(opts ...stream.Option) (*Emulator, error) {
	e := &Emulator{
		Base:     device.NewBase(Name),
		channels: make(map[string]*channel),
	}

	e.addChannel(&channel{
		id: "MB0", kind: TypeTemp, nickname: "MB0.T1",
		heater: "MB1", aux: "DB5",
		p: 1, i: 1, d: 0,
		autopidFile:     "None",
		calibrationFile: "RO-600",
		temperature:     300, temperatureSP: 300, resistance: 1000,
	})
	e.addChannel(&channel{id: "MB1", kind: TypeHeater, nickname: "MB1.H1", voltageLimit: 40})
	e.addChannel(&channel{id: "DB5", kind: TypeAux, nickname: "DB5.A1"})
	e.addChannel(&channel{
		id: "DB8", kind: TypePres, nickname: "DB8.P1",
		heater: "DB1", aux: "DB5",
		p: 1, i: 1, d: 0,
		autopidFile:     "None",
		calibrationFile: "None",
		pressure:        1000, pressureSP: 1000, sensorVoltage: 5,
	})
	e.addChannel(&channel{id: "DB1", kind: TypeHeater, nickname: "DB1.H1", voltageLimit: 40})

	opts = append([]stream.Option{
		stream.WithInTerminator("\n"),
		stream.WithOutTerminator("\n"),
		stream.WithErrorHandler(invalidReply),
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

// invalidReply answers a rejected request with the request text, without
// its ISOBUS prefix, followed by ":INVALID".
func invalidReply(request string, _ error) stream.Reply {
	return stream.Text(strings.TrimPrefix(request, IsobusPrefix) + ":INVALID")
}

func (e *Emulator) addChannel(c *channel) {
	e.order = append(e.order, c.id)
	e.channels[c.id] = c

	attrs := e.Attributes()
	attr := func(name string, a device.Attribute) {
		attrs.Register(c.id+"."+name, a)
	}

	attr("nickname", device.String(&c.nickname))
	attr("type", device.ReadOnly(func() string { return c.kind }))

	switch c.kind {
	case TypeTemp, TypePres:
		attr("p", device.Float(&c.p))
		attr("i", device.Float(&c.i))
		attr("d", device.Float(&c.d))
		attr("autopid", device.Bool(&c.autopid))
		attr("heater_auto", device.Bool(&c.heaterAuto))
		attr("heater_percent", device.Float(&c.heaterPercent))
		attr("gas_flow_auto", device.Bool(&c.gasFlowAuto))
		if c.kind == TypeTemp {
			attr("temperature", device.Float(&c.temperature))
			attr("temperature_sp", device.Float(&c.temperatureSP))
			attr("resistance", device.Float(&c.resistance))
		} else {
			attr("pressure", device.Float(&c.pressure))
			attr("pressure_sp", device.Float(&c.pressureSP))
			attr("voltage", device.Float(&c.sensorVoltage))
		}
	case TypeHeater:
		attr("voltage_limit", device.Float(&c.voltageLimit))
		attr("voltage", device.Float(&c.voltage))
		attr("current", device.Float(&c.current))
		attr("power", device.Float(&c.power))
	case TypeAux:
		attr("gas_flow", device.Float(&c.gasFlow))
	}
}

// lookup resolves id and, when kind is not empty, checks its type.
func (e *Emulator) lookup(id, kind string) (*channel, error) {
	c, ok := e.channels[id]
	if !ok {
		return nil, fmt.Errorf("mercuryitc: unknown channel %s", id)
	}
	if kind != "" && c.kind != kind {
		return nil, fmt.Errorf("mercuryitc: unexpected channel type for %s: want %s, got %s", id, kind, c.kind)
	}

	return c, nil
}

// request starts a pattern accepting the optional ISOBUS prefix.
func request(name string) *pattern.Builder {
	return pattern.New(name).Optional(IsobusPrefix)
}

// readDev matches "READ:DEV:<id>" followed by suffix.
func readDev(name, suffix string) *pattern.Pattern {
	return request(name).Escape("READ:DEV:").AnyExcept(":").Escape(suffix).EOS().MustBuild()
}

// readLoop matches "READ:DEV:<id>:<type>" followed by suffix.
func readLoop(name, suffix string) *pattern.Pattern {
	return request(name).Escape("READ:DEV:").AnyExcept(":").Escape(":").AnyExcept(":").
		Escape(suffix).EOS().MustBuild()
}

// setLoop starts "SET:DEV:<id>:<type>" followed by suffix; the caller
// appends the value arguments.
func setLoop(name, suffix string) *pattern.Builder {
	return request(name).Escape("SET:DEV:").AnyExcept(":").Escape(":").AnyExcept(":").Escape(suffix)
}

func (e *Emulator) commands() []stream.Command {
	ifConnected := func(h stream.HandlerFunc) stream.HandlerFunc {
		return stream.Conditional(e.Connected, h)
	}
	bind := func(p *pattern.Pattern, h stream.HandlerFunc) stream.Command {
		return stream.Bind(p, ifConnected(h))
	}

	return []stream.Command{
		bind(request("get_catalog").Escape("READ:SYS:CAT").EOS().MustBuild(), e.getCatalog),
		bind(request("read_calib_tables").Escape("READ:FILE:calibration_tables:LIST").EOS().MustBuild(),
			func(pattern.Args) (stream.Reply, error) { return stream.Text(""), nil }),
		bind(readLoop("get_nickname", ":NICK"), e.getNickname),
		bind(setLoop("set_nickname", ":NICK:").AnyExcept(":").EOS().MustBuild(), e.setNickname),

		bind(readDev("get_all_temp_sensor_details", ":TEMP"), e.getAllTempDetails),
		bind(readDev("get_all_heater_details", ":HTR"), e.getAllHeaterDetails),
		bind(readDev("get_all_aux_details", ":AUX"), e.getAllAuxDetails),

		bind(readLoop("get_associated_heater", ":LOOP:HTR"), e.loopQuery("LOOP:HTR", func(c *channel) string { return c.heater })),
		bind(readLoop("get_associated_aux", ":LOOP:AUX"), e.loopQuery("LOOP:AUX", func(c *channel) string { return c.aux })),

		bind(readLoop("get_autopid", ":LOOP:PIDT"), e.loopQuery("LOOP:PIDT", func(c *channel) string { return onOff(c.autopid) })),
		bind(setLoop("set_autopid", ":LOOP:PIDT:").Enum("ON", "OFF").EOS().MustBuild(),
			e.loopSwitch("LOOP:PIDT", func(c *channel) *bool { return &c.autopid })),
		bind(readLoop("get_temp_p", ":LOOP:P"), e.loopQuery("LOOP:P", func(c *channel) string { return fixed(c.p) })),
		bind(setLoop("set_temp_p", ":LOOP:P:").Float().EOS().MustBuild(),
			e.loopValue("LOOP:P", func(c *channel) *float64 { return &c.p })),
		bind(readLoop("get_temp_i", ":LOOP:I"), e.loopQuery("LOOP:I", func(c *channel) string { return fixed(c.i) })),
		bind(setLoop("set_temp_i", ":LOOP:I:").Float().EOS().MustBuild(),
			e.loopValue("LOOP:I", func(c *channel) *float64 { return &c.i })),
		bind(readLoop("get_temp_d", ":LOOP:D"), e.loopQuery("LOOP:D", func(c *channel) string { return fixed(c.d) })),
		bind(setLoop("set_temp_d", ":LOOP:D:").Float().EOS().MustBuild(),
			e.loopValue("LOOP:D", func(c *channel) *float64 { return &c.d })),

		bind(readDev("get_temp_measured", ":TEMP:SIG:TEMP"), e.signal(TypeTemp, "SIG:TEMP", "K", func(c *channel) float64 { return c.temperature })),
		bind(readDev("get_pres_measured", ":PRES:SIG:PRES"), e.signal(TypePres, "SIG:PRES", "mBar", func(c *channel) float64 { return c.pressure })),
		bind(readDev("get_resistance", ":TEMP:SIG:RES"), e.signal(TypeTemp, "SIG:RES", "O", func(c *channel) float64 { return c.resistance })),
		bind(readDev("get_voltage", ":PRES:SIG:VOLT"), e.signal(TypePres, "SIG:VOLT", "V", func(c *channel) float64 { return c.sensorVoltage })),

		bind(readLoop("get_control_loop_setpoint", ":LOOP:TSET"), e.getSetpoint),
		bind(setLoop("set_control_loop_setpoint", ":LOOP:TSET:").Float().AnyExcept(":").EOS().MustBuild(), e.setSetpoint),

		bind(readLoop("get_heater_auto", ":LOOP:ENAB"), e.loopQuery("LOOP:ENAB", func(c *channel) string { return onOff(c.heaterAuto) })),
		bind(setLoop("set_heater_auto", ":LOOP:ENAB:").Enum("ON", "OFF").EOS().MustBuild(),
			e.loopSwitch("LOOP:ENAB", func(c *channel) *bool { return &c.heaterAuto })),
		bind(readLoop("get_heater_percent", ":LOOP:HSET"), e.loopQuery("LOOP:HSET", func(c *channel) string { return fixed(c.heaterPercent) })),
		bind(setLoop("set_heater_percent", ":LOOP:HSET:").Float().EOS().MustBuild(),
			e.loopValue("LOOP:HSET", func(c *channel) *float64 { return &c.heaterPercent })),

		bind(readDev("get_heater_voltage", ":HTR:SIG:VOLT"), e.signal(TypeHeater, "SIG:VOLT", "V", func(c *channel) float64 { return c.voltage })),
		bind(readDev("get_heater_current", ":HTR:SIG:CURR"), e.signal(TypeHeater, "SIG:CURR", "A", func(c *channel) float64 { return c.current })),
		bind(readDev("get_heater_power", ":HTR:SIG:POWR"), e.signal(TypeHeater, "SIG:POWR", "W", func(c *channel) float64 { return c.power })),
		bind(readDev("get_heater_voltage_limit", ":HTR:VLIM"), e.signal(TypeHeater, "VLIM", "", func(c *channel) float64 { return c.voltageLimit })),
		bind(request("set_heater_voltage_limit").Escape("SET:DEV:").AnyExcept(":").Escape(":HTR:VLIM:").Float().EOS().MustBuild(),
			e.setVoltageLimit),

		bind(readLoop("get_gas_flow_auto", ":LOOP:FAUT"), e.loopQuery("LOOP:FAUT", func(c *channel) string { return onOff(c.gasFlowAuto) })),
		bind(setLoop("set_gas_flow_auto", ":LOOP:FAUT:").Enum("ON", "OFF").EOS().MustBuild(),
			e.loopSwitch("LOOP:FAUT", func(c *channel) *bool { return &c.gasFlowAuto })),
		bind(readDev("get_gas_flow", ":AUX:SIG:PERC"), e.signal(TypeAux, "SIG:PERC", "", func(c *channel) float64 { return c.gasFlow })),
		bind(setLoop("set_gas_flow", ":LOOP:FSET:").Float().EOS().MustBuild(), e.setGasFlow),
	}
}

func (e *Emulator) getCatalog(pattern.Args) (stream.Reply, error) {
	var sb strings.Builder
	sb.WriteString("STAT:SYS:CAT")
	for _, id := range e.order {
		fmt.Fprintf(&sb, ":DEV:%s:%s", id, e.channels[id].kind)
	}

	return stream.Text(sb.String()), nil
}

func (e *Emulator) getNickname(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), args.String(1))
	if err != nil {
		return stream.NoReply, err
	}

	return stream.Textf("STAT:DEV:%s:%s:NICK:%s", c.id, c.kind, c.nickname), nil
}

func (e *Emulator) setNickname(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), args.String(1))
	if err != nil {
		return stream.NoReply, err
	}
	c.nickname = args.String(2)

	return stream.Textf("STAT:SET:DEV:%s:%s:NICK:%s:VALID", c.id, c.kind, c.nickname), nil
}

// loopQuery answers "STAT:DEV:<id>:<type>:<key>:<value>".
func (e *Emulator) loopQuery(key string, value func(c *channel) string) stream.HandlerFunc {
	return func(args pattern.Args) (stream.Reply, error) {
		c, err := e.lookup(args.String(0), args.String(1))
		if err != nil {
			return stream.NoReply, err
		}

		return stream.Textf("STAT:DEV:%s:%s:%s:%s", c.id, c.kind, key, value(c)), nil
	}
}

func (e *Emulator) loopSwitch(key string, field func(c *channel) *bool) stream.HandlerFunc {
	return func(args pattern.Args) (stream.Reply, error) {
		c, err := e.lookup(args.String(0), args.String(1))
		if err != nil {
			return stream.NoReply, err
		}
		*field(c) = args.String(2) == "ON"

		return stream.Textf("STAT:SET:DEV:%s:%s:%s:%s:VALID", c.id, c.kind, key, onOff(*field(c))), nil
	}
}

func (e *Emulator) loopValue(key string, field func(c *channel) *float64) stream.HandlerFunc {
	return func(args pattern.Args) (stream.Reply, error) {
		c, err := e.lookup(args.String(0), args.String(1))
		if err != nil {
			return stream.NoReply, err
		}
		*field(c) = args.Float(2)

		return stream.Textf("STAT:SET:DEV:%s:%s:%s:%s:VALID", c.id, c.kind, key, fixed(*field(c))), nil
	}
}

// signal answers a reading of a channel of the given type with a unit suffix.
func (e *Emulator) signal(kind, key, unit string, value func(c *channel) float64) stream.HandlerFunc {
	return func(args pattern.Args) (stream.Reply, error) {
		c, err := e.lookup(args.String(0), kind)
		if err != nil {
			return stream.NoReply, err
		}

		return stream.Textf("STAT:DEV:%s:%s:%s:%s%s", c.id, kind, key, fixed(value(c)), unit), nil
	}
}

func (e *Emulator) getSetpoint(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), args.String(1))
	if err != nil {
		return stream.NoReply, err
	}

	switch c.kind {
	case TypeTemp:
		return stream.Textf("STAT:DEV:%s:%s:LOOP:TSET:%sK", c.id, c.kind, fixed(c.temperatureSP)), nil
	case TypePres:
		return stream.Textf("STAT:DEV:%s:%s:LOOP:TSET:%smBar", c.id, c.kind, fixed(c.pressureSP)), nil
	default:
		return stream.NoReply, fmt.Errorf("mercuryitc: channel %s has no control loop", c.id)
	}
}

func (e *Emulator) setSetpoint(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), args.String(1))
	if err != nil {
		return stream.NoReply, err
	}

	sp, unit := args.Float(2), args.String(3)
	switch {
	case c.kind == TypeTemp && unit == "K":
		c.temperatureSP = sp
	case c.kind == TypePres && unit == "mBar":
		c.pressureSP = sp
	case c.kind == TypeTemp || c.kind == TypePres:
		return stream.NoReply, fmt.Errorf("mercuryitc: invalid unit %q for %s", unit, c.kind)
	default:
		return stream.NoReply, fmt.Errorf("mercuryitc: channel %s has no control loop", c.id)
	}

	return stream.Textf("STAT:SET:DEV:%s:%s:LOOP:TSET:%s%s:VALID", c.id, c.kind, fixed(sp), unit), nil
}

func (e *Emulator) setVoltageLimit(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), TypeHeater)
	if err != nil {
		return stream.NoReply, err
	}
	c.voltageLimit = args.Float(1)

	return stream.Textf("STAT:SET:DEV:%s:HTR:VLIM:%s:VALID", c.id, fixed(c.voltageLimit)), nil
}

// setGasFlow sets the needle valve of the loop's associated aux channel.
func (e *Emulator) setGasFlow(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), args.String(1))
	if err != nil {
		return stream.NoReply, err
	}
	aux, err := e.lookup(c.aux, TypeAux)
	if err != nil {
		return stream.NoReply, err
	}
	aux.gasFlow = args.Float(2)

	return stream.Textf("STAT:SET:DEV:%s:%s:LOOP:FSET:%s:VALID", c.id, c.kind, fixed(aux.gasFlow)), nil
}

func (e *Emulator) getAllTempDetails(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), TypeTemp)
	if err != nil {
		return stream.NoReply, err
	}
	aux, err := e.lookup(c.aux, TypeAux)
	if err != nil {
		return stream.NoReply, err
	}

	pidFile := "None"
	if c.autopid {
		pidFile = c.autopidFile
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "STAT:DEV:%s:TEMP:", c.id)
	fmt.Fprintf(&sb, ":NICK:%s", c.nickname)
	sb.WriteString(":LOOP")
	fmt.Fprintf(&sb, ":AUX:%s:D:%s:HTR:%s:I:%s", c.aux, short(c.d), c.heater, short(c.i))
	fmt.Fprintf(&sb, ":HSET:%s:PIDT:%s:ENAB:%s", short(c.heaterPercent), onOff(c.autopid), onOff(c.heaterAuto))
	fmt.Fprintf(&sb, ":FAUT:%s:FSET:%s:PIDF:%s", onOff(c.gasFlowAuto), short(aux.gasFlow), pidFile)
	fmt.Fprintf(&sb, ":P:%s:TSET:%sK", short(c.p), fixed(c.temperatureSP))
	fmt.Fprintf(&sb, ":CAL:FILE:%s", c.calibrationFile)
	fmt.Fprintf(&sb, ":SIG:TEMP:%sK:RES:%sO", fixed(c.temperature), fixed(c.resistance))

	return stream.Text(sb.String()), nil
}

func (e *Emulator) getAllHeaterDetails(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), TypeHeater)
	if err != nil {
		return stream.NoReply, err
	}

	return stream.Textf("STAT:DEV:%s:HTR:NICK:%s:VLIM:%s:SIG:VOLT:%sV:CURR:%sA:POWR:%sW",
		c.id, c.nickname, short(c.voltageLimit), fixed(c.voltage), fixed(c.current), fixed(c.power)), nil
}

func (e *Emulator) getAllAuxDetails(args pattern.Args) (stream.Reply, error) {
	c, err := e.lookup(args.String(0), TypeAux)
	if err != nil {
		return stream.NoReply, err
	}

	return stream.Textf("STAT:DEV:%s:AUX:NICK:%s:SIG:PERC:%s", c.id, c.nickname, fixed(c.gasFlow)), nil
}

func onOff(b bool) string {
	if b {
		return "ON"
	}

	return "OFF"
}

// fixed renders v with four decimals.
func fixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// short renders v in shortest form, always with a fractional part.
func short(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}
