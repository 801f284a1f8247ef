// Package backdoor exposes an emulator's attributes over a small line based
// control protocol, so that tests and operators can inspect and steer a
// running emulator without going through the instrument protocol.
//
// Requests end with "\n" and replies with "\n":
//
//	GET <name>            -> <value>
//	SET <name> <value>    -> OK
//	LIST                  -> <name>,<name>,...
//	STATE                 -> <state name>
//	CONNECT / DISCONNECT  -> OK
//
// Failures reply "ERR <reason>".
package backdoor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
)

// Backdoor is the control channel of one emulator. It implements
// device.Emulator so it can be served like any instrument; it locks the
// emulator it controls.
type Backdoor struct {
	emu   device.Emulator
	proto *stream.Protocol
}

var _ device.Emulator = (*Backdoor)(nil)

// New creates the control channel for emu.
func New(emu device.Emulator, opts ...stream.Option) (*Backdoor, error) {
	b := &Backdoor{emu: emu}

	cmds := []stream.Command{
		stream.Bind(pattern.New("get", pattern.WithIgnore(" ")).Escape("GET ").AnyExcept(" ").EOS().MustBuild(), b.get),
		stream.Bind(pattern.New("set", pattern.WithArgSeparator(" +")).Escape("SET ").AnyExcept(" ").String().EOS().MustBuild(), b.set),
		stream.Bind(pattern.New("list").Escape("LIST").EOS().MustBuild(), b.list),
		stream.Bind(pattern.New("state").Escape("STATE").EOS().MustBuild(), b.state),
		stream.Bind(pattern.New("connect").Escape("CONNECT").EOS().MustBuild(), b.connect(true)),
		stream.Bind(pattern.New("disconnect").Escape("DISCONNECT").EOS().MustBuild(), b.connect(false)),
	}

	opts = append([]stream.Option{
		stream.WithInTerminator("\n"),
		stream.WithOutTerminator("\n"),
		stream.WithErrorHandler(errorReply),
	}, opts...)

	proto, err := stream.NewProtocol("backdoor:"+emu.Name(), cmds, opts...)
	if err != nil {
		return nil, err
	}
	b.proto = proto

	return b, nil
}

// Name returns the name of the controlled emulator with a "backdoor:" prefix.
func (b *Backdoor) Name() string {
	return "backdoor:" + b.emu.Name()
}

// Protocol returns the control protocol.
func (b *Backdoor) Protocol() *stream.Protocol {
	return b.proto
}

// Attributes returns the attributes of the controlled emulator.
func (b *Backdoor) Attributes() *device.Attributes {
	return b.emu.Attributes()
}

// Lock locks the controlled emulator.
func (b *Backdoor) Lock() {
	b.emu.Lock()
}

// Unlock unlocks the controlled emulator.
func (b *Backdoor) Unlock() {
	b.emu.Unlock()
}

func (b *Backdoor) get(args pattern.Args) (stream.Reply, error) {
	v, err := b.emu.Attributes().Get(strings.TrimSpace(args.String(0)))
	if err != nil {
		return stream.NoReply, err
	}

	return stream.Text(v), nil
}

func (b *Backdoor) set(args pattern.Args) (stream.Reply, error) {
	if err := b.emu.Attributes().Set(args.String(0), strings.TrimSpace(args.String(1))); err != nil {
		return stream.NoReply, err
	}

	return stream.Text("OK"), nil
}

func (b *Backdoor) list(pattern.Args) (stream.Reply, error) {
	return stream.Text(strings.Join(b.emu.Attributes().Names(), ",")), nil
}

func (b *Backdoor) state(pattern.Args) (stream.Reply, error) {
	reporter, ok := b.emu.(device.StateReporter)
	if !ok {
		return stream.NoReply, fmt.Errorf("%s has no state machine", b.emu.Name())
	}

	return stream.Text(reporter.State()), nil
}

func (b *Backdoor) connect(connected bool) stream.HandlerFunc {
	return func(pattern.Args) (stream.Reply, error) {
		c, ok := b.emu.(device.Connector)
		if !ok {
			return stream.NoReply, fmt.Errorf("%s has no connected flag", b.emu.Name())
		}
		c.SetConnected(connected)

		return stream.Text("OK"), nil
	}
}

func errorReply(_ string, err error) stream.Reply {
	var handlerErr *stream.HandlerError
	if errors.As(err, &handlerErr) {
		return stream.Text("ERR " + handlerErr.Err.Error())
	}

	return stream.Text("ERR unknown command")
}
