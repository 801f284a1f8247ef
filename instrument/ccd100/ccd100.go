// Package ccd100 emulates the CCD100 capacitive level controller.
//
// Every reply echoes the addressed command and ends with a "!<addr>!o!"
// trailer. While the controller is in its error mode it answers every
// request with a fixed error text and a different terminator.
package ccd100

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
)

// Name is the instrument name used in the registry.
const Name = "ccd100"

const (
	setpointCmd = "spv"
	unitsCmd    = "uiu"
	readingCmd  = "r"

	goodTerminator = "\r\r\n"
	addressRegex   = `[a-h]`
)

// Emulator is an emulated CCD100.
type Emulator struct {
	*device.Base
	proto *stream.Protocol

	address         string
	setpoint        float64
	units           string
	currentReading  float64
	setpointMode    int
	givingErrors    bool
	errorReply      string
	errorTerminator string
}

// New creates a controller at address "a".
func New(opts ...stream.Option) (*Emulator, error) {
	e := &Emulator{
		Base:            device.NewBase(Name),
		address:         "a",
		units:           "mm",
		errorReply:      "ERR",
		errorTerminator: "\r\n",
	}

	attrs := e.Attributes()
	attrs.Register("address", device.OneOf(&e.address, "a", "b", "c", "d", "e", "f", "g", "h"))
	attrs.Register("setpoint", device.Float(&e.setpoint))
	attrs.Register("units", device.String(&e.units))
	attrs.Register("current_reading", device.Float(&e.currentReading))
	attrs.Register("setpoint_mode", device.Int(&e.setpointMode))
	attrs.Register("is_giving_errors", device.Bool(&e.givingErrors))
	attrs.Register("out_error", device.String(&e.errorReply))
	attrs.Register("out_terminator_in_error", device.String(&e.errorTerminator))

	ifConnected := func(h stream.HandlerFunc) stream.HandlerFunc {
		return stream.Conditional(e.Connected, h)
	}

	cmds := []stream.Command{
		stream.Bind(pattern.New("get_sp").Arg(addressRegex, nil).Escape(setpointCmd+"?").EOS().MustBuild(),
			ifConnected(e.getSetpoint)),
		stream.Bind(pattern.New("set_sp").Arg(addressRegex, nil).Escape(setpointCmd+" ").Float().EOS().MustBuild(),
			ifConnected(e.setSetpoint)),
		stream.Bind(pattern.New("get_units").Arg(addressRegex, nil).Escape(unitsCmd+"?").EOS().MustBuild(),
			ifConnected(e.getUnits)),
		stream.Bind(pattern.New("set_units").Arg(addressRegex, nil).Escape(unitsCmd+" ").Arg(`[a-z]+`, nil).EOS().MustBuild(),
			ifConnected(e.setUnits)),
		stream.Bind(pattern.New("get_reading").Arg(addressRegex, nil).Escape(readingCmd).EOS().MustBuild(),
			ifConnected(e.getReading)),
	}

	opts = append([]stream.Option{
		stream.WithInTerminator("\r\n"),
		stream.WithOutTerminatorFunc(e.outTerminator),
	}, opts...)

	proto, err := stream.NewProtocol(Name, cmds, opts...)
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

func (e *Emulator) outTerminator() string {
	if e.givingErrors {
		return e.errorTerminator
	}

	return goodTerminator
}

// response renders the echo line, the optional data line and the trailer.
func (e *Emulator) response(command, params, data string) stream.Reply {
	if e.givingErrors {
		return stream.Text(e.errorReply)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s*:%s;%s%s", e.address, command, params, goodTerminator)
	if data != "" {
		sb.WriteString(data + goodTerminator)
	}
	fmt.Fprintf(&sb, "!%s!o!", e.address)

	return stream.Text(sb.String())
}

func (e *Emulator) getSetpoint(pattern.Args) (stream.Reply, error) {
	return e.response(setpointCmd+"?", " ", "SP VALUE: "+formatFloat(e.setpoint)+" "), nil
}

func (e *Emulator) setSetpoint(args pattern.Args) (stream.Reply, error) {
	if args.String(0) == e.address {
		e.setpoint = args.Float(1)
	}

	return e.response(setpointCmd, " ", ""), nil
}

func (e *Emulator) getUnits(pattern.Args) (stream.Reply, error) {
	return e.response(unitsCmd+"?", " ", "INPUT UNITS STR: "+e.units), nil
}

func (e *Emulator) setUnits(args pattern.Args) (stream.Reply, error) {
	if args.String(0) == e.address {
		e.units = args.String(1)
	}

	return e.response(unitsCmd, " ", ""), nil
}

func (e *Emulator) getReading(pattern.Args) (stream.Reply, error) {
	data := fmt.Sprintf("READ:%-10s;%d", strconv.FormatFloat(e.currentReading, 'f', 3, 64), e.setpointMode)

	return e.response(readingCmd+"  ", " ", data), nil
}

// formatFloat renders v in shortest form, always with a fractional part.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}
