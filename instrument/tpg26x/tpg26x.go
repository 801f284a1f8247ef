// Package tpg26x emulates the Pfeiffer TPG 261/262 dual gauge controller.
//
// The controller is polled: every command is acknowledged with ACK and its
// answer is sent only when the host follows up with ENQ.
package tpg26x

import (
	"fmt"
	"strconv"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
)

// Name is the instrument name used in the registry.
const Name = "tpg26x"

// Pressure units selected with UNI.
const (
	UnitsMbar = 0
	UnitsTorr = 1
	UnitsPa   = 2
)

// Gauge status codes reported in front of each reading.
const (
	StatusOK         = 0
	StatusUnderrange = 1
	StatusOverrange  = 2
	StatusError      = 3
	StatusOff        = 4
	StatusNoSensor   = 5
)

// Emulator is an emulated TPG 26x.
type Emulator struct {
	*device.Base
	proto *stream.Protocol

	pressure1 float64
	pressure2 float64
	status1   int
	status2   int
	units     int
}

var _ device.Emulator = (*Emulator)(nil)

// New creates a controller reading 1 mbar on both gauges.
func New(opts ...stream.Option) (*Emulator, error) {
	e := &Emulator{
		Base:      device.NewBase(Name),
		pressure1: 1.0,
		pressure2: 1.0,
		units:     UnitsMbar,
	}

	attrs := e.Attributes()
	attrs.Register("pressure1", device.Float(&e.pressure1))
	attrs.Register("pressure2", device.Float(&e.pressure2))
	attrs.Register("status1", device.Int(&e.status1))
	attrs.Register("status2", device.Int(&e.status2))
	attrs.Register("units", device.Int(&e.units))

	cmds := []stream.Command{
		stream.Bind(pattern.New("get_pressure").Escape("PRX").EOS().MustBuild(), stream.Query(e.pressures)),
		stream.Bind(pattern.New("get_units").Escape("UNI").EOS().MustBuild(), stream.Query(e.unitsText)),
		stream.Bind(pattern.New("set_units").Escape("UNI").Optional(",").Enum("0", "1", "2").EOS().MustBuild(), e.setUnits),
	}

	opts = append([]stream.Option{
		stream.WithInTerminator("\r\n"),
		stream.WithOutTerminator("\r\n"),
		stream.WithEnquiry(stream.ENQ, stream.ACK),
	}, opts...)

	proto, err := stream.NewProtocol(Name, cmds, opts...)
	if err != nil {
		return nil, err
	}
	e.proto = proto

	return e, nil
}

// Protocol returns the polled gauge protocol.
func (e *Emulator) Protocol() *stream.Protocol {
	return e.proto
}

func (e *Emulator) pressures() string {
	return fmt.Sprintf("%d,%s,%d,%s", e.status1, formatPressure(e.pressure1), e.status2, formatPressure(e.pressure2))
}

func (e *Emulator) unitsText() string {
	return strconv.Itoa(e.units)
}

func (e *Emulator) setUnits(args pattern.Args) (stream.Reply, error) {
	units, err := strconv.Atoi(args.String(0))
	if err != nil {
		return stream.NoReply, err
	}
	e.units = units

	return stream.Text(e.unitsText()), nil
}

func formatPressure(v float64) string {
	return fmt.Sprintf("%.4E", v)
}
