// Package ag33220a emulates the Agilent 33220A function generator over its
// SCPI subset: amplitude, frequency, offset, units, waveform, output state
// and high/low levels.
package ag33220a

import (
	"strconv"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
)

// Name is the instrument name used in the registry.
const Name = "ag33220a"

// DefaultIDN is the identification string returned by *IDN?.
const DefaultIDN = "Agilent Technologies,33220A,MY44023911,2.02-2.02-22-2"

var (
	units     = []string{"VPP", "VRMS", "DBM"}
	functions = []string{"SIN", "SQU", "RAMP", "PULS", "NOIS", "DC", "USER"}
)

// Emulator is an emulated 33220A.
type Emulator struct {
	*device.Base
	proto *stream.Protocol

	voltage     float64
	frequency   float64
	offset      float64
	voltageHigh float64
	voltageLow  float64
	units       string
	function    string
	output      int
	idn         string
}

var _ device.Emulator = (*Emulator)(nil)

// New creates a generator in its power-on state: 1 kHz sine, 100 mVpp, output off.
// opts are applied after the instrument's own wire settings.
func New(opts ...stream.Option) (*Emulator, error) {
	e := &Emulator{
		Base:        device.NewBase(Name),
		voltage:     0.1,
		frequency:   1000,
		voltageHigh: 0.05,
		voltageLow:  -0.05,
		units:       "VPP",
		function:    "SIN",
		idn:         DefaultIDN,
	}

	attrs := e.Attributes()
	attrs.Register("voltage", device.Float(&e.voltage))
	attrs.Register("frequency", device.Float(&e.frequency))
	attrs.Register("offset", device.Float(&e.offset))
	attrs.Register("voltage_high", device.Float(&e.voltageHigh))
	attrs.Register("voltage_low", device.Float(&e.voltageLow))
	attrs.Register("units", device.OneOf(&e.units, units...))
	attrs.Register("function", device.OneOf(&e.function, functions...))
	attrs.Register("output", device.Int(&e.output))
	attrs.Register("idn", device.String(&e.idn))

	opts = append([]stream.Option{
		stream.WithInTerminator("\n"),
		stream.WithOutTerminator("\n"),
	}, opts...)

	proto, err := stream.NewProtocol(Name, e.commands(), opts...)
	if err != nil {
		return nil, err
	}
	e.proto = proto

	return e, nil
}

// Protocol returns the SCPI protocol.
func (e *Emulator) Protocol() *stream.Protocol {
	return e.proto
}

func (e *Emulator) commands() []stream.Command {
	query := func(name, cmd string, fn func() string) stream.Command {
		return stream.Bind(pattern.New(name).Escape(cmd).EOS().MustBuild(), stream.Query(fn))
	}
	setFloat := func(name, cmd string, p *float64) stream.Command {
		return stream.Bind(pattern.New(name).Escape(cmd).Float().EOS().MustBuild(),
			stream.Action(func(args pattern.Args) error {
				*p = args.Float(0)
				return nil
			}))
	}
	floatOf := func(p *float64) func() string {
		return func() string { return FormatFloat(*p) }
	}

	return []stream.Command{
		query("get_voltage", "VOLT?", floatOf(&e.voltage)),
		setFloat("set_voltage", "VOLT ", &e.voltage),
		query("get_freq", "FREQ?", floatOf(&e.frequency)),
		setFloat("set_freq", "FREQ ", &e.frequency),
		query("get_offset", "VOLT:OFFS?", floatOf(&e.offset)),
		setFloat("set_offset", "VOLT:OFFS ", &e.offset),
		query("get_units", "VOLT:UNIT?", func() string { return e.units }),
		stream.Bind(pattern.New("set_units").Escape("VOLT:UNIT ").Enum(units...).EOS().MustBuild(),
			stream.Action(func(args pattern.Args) error {
				e.units = args.String(0)
				return nil
			})),
		query("get_function", "FUNC?", func() string { return e.function }),
		stream.Bind(pattern.New("set_function").Escape("FUNC ").Enum(functions...).EOS().MustBuild(),
			stream.Action(func(args pattern.Args) error {
				e.function = args.String(0)
				return nil
			})),
		query("get_output", "OUTP?", func() string { return strconv.Itoa(e.output) }),
		stream.Bind(pattern.New("set_output").Escape("OUTP ").Enum("0", "1", "ON", "OFF").EOS().MustBuild(),
			stream.Action(func(args pattern.Args) error {
				switch args.String(0) {
				case "1", "ON":
					e.output = 1
				default:
					e.output = 0
				}

				return nil
			})),
		query("get_idn", "*IDN?", func() string { return e.idn }),
		query("get_voltage_high", "VOLT:HIGH?", floatOf(&e.voltageHigh)),
		stream.Bind(pattern.New("set_voltage_high").Escape("VOLT:HIGH").Optional(" ").Float().EOS().MustBuild(),
			stream.Action(func(args pattern.Args) error {
				e.voltageHigh = args.Float(0)
				return nil
			})),
		query("get_voltage_low", "VOLT:LOW?", floatOf(&e.voltageLow)),
		stream.Bind(pattern.New("set_voltage_low").Escape("VOLT:LOW").Optional(" ").Float().EOS().MustBuild(),
			stream.Action(func(args pattern.Args) error {
				e.voltageLow = args.Float(0)
				return nil
			})),
	}
}

// FormatFloat renders v rounded to four significant digits in the
// instrument's x.xxxxxxxxxxxxxE±YY notation.
func FormatFloat(v float64) string {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 4, 64), 64)
	if err != nil {
		rounded = v
	}

	return strconv.FormatFloat(rounded, 'E', 13, 64)
}
