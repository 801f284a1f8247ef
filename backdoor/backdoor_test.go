package backdoor

import (
	"testing"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDevice struct {
	*device.Base
	voltage float64
	state   string
}

func (d *testDevice) Protocol() *stream.Protocol { return nil }

func (d *testDevice) State() string { return d.state }

func newTestDevice() *testDevice {
	d := &testDevice{Base: device.NewBase("psu"), voltage: 1.5, state: "off"}
	d.Attributes().Register("voltage", device.Float(&d.voltage))
	d.Attributes().Register("state", device.ReadOnly(func() string { return d.state }))

	return d
}

func TestBackdoor_Commands(t *testing.T) {
	dev := newTestDevice()
	bd, err := New(dev)
	require.NoError(t, err)

	sess := stream.NewSession(nopCloser{}, bd.Protocol(), stream.WithLocker(bd))

	tests := []struct {
		request string
		want    string
	}{
		{"GET voltage", "1.5\n"},
		{"SET voltage 2.5", "OK\n"},
		{"GET voltage", "2.5\n"},
		{"SET voltage abc", "ERR device: invalid attribute value: \"abc\": strconv.ParseFloat: parsing \"abc\": invalid syntax\n"},
		{"SET state on", "ERR device: attribute is read-only: state\n"},
		{"GET missing", "ERR device: unknown attribute: missing\n"},
		{"LIST", "state,voltage\n"},
		{"STATE", "off\n"},
		{"DISCONNECT", "OK\n"},
		{"FOO", "ERR unknown command\n"},
	}

	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			assert.Equal(t, tt.want, string(sess.Process(tt.request)))
		})
	}

	assert.False(t, dev.Connected())
	assert.Equal(t, "OK\n", string(sess.Process("CONNECT")))
	assert.True(t, dev.Connected())
	assert.Equal(t, "backdoor:psu", bd.Name())
	assert.Equal(t, dev.Attributes(), bd.Attributes())
}

type plainDevice struct {
	*device.Base
}

func (plainDevice) Protocol() *stream.Protocol { return nil }

func TestBackdoor_NoStateMachine(t *testing.T) {
	bd, err := New(plainDevice{device.NewBase("plain")})
	require.NoError(t, err)

	reply := bd.Protocol().Handle("STATE")
	assert.Equal(t, "ERR plain has no state machine", reply.Payload())
}

type nopCloser struct{}

func (nopCloser) Read([]byte) (int, error)    { return 0, nil }
func (nopCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopCloser) Close() error                { return nil }
