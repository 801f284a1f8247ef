package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-labemu/device"
	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingDevice struct {
	*device.Base
	proto *stream.Protocol
	ticks atomic.Int32
}

func (d *pingDevice) Protocol() *stream.Protocol { return d.proto }

func (d *pingDevice) Tick(time.Duration) error {
	d.ticks.Add(1)
	return nil
}

func newPingDevice() (*pingDevice, error) {
	d := &pingDevice{Base: device.NewBase("ping")}
	proto, err := stream.NewProtocol("ping", []stream.Command{
		stream.Bind(pattern.New("ping").Escape("PING").EOS().MustBuild(), stream.Query(func() string { return "PONG" })),
	})
	if err != nil {
		return nil, err
	}
	d.proto = proto

	return d, nil
}

func pingFactory(created chan<- *pingDevice) device.Factory {
	return func() (device.Emulator, error) {
		d, err := newPingDevice()
		if err != nil {
			return nil, err
		}
		if created != nil {
			created <- d
		}

		return d, nil
	}
}

func startServer(t *testing.T, factory device.Factory, opts ...Option) *Server {
	t.Helper()

	opts = append([]Option{WithAcceptTimeout(50 * time.Millisecond)}, opts...)
	cfg, err := NewConfig("127.0.0.1", 0, opts...)
	require.NoError(t, err)

	srv, err := New(context.Background(), cfg, factory)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })

	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func request(t *testing.T, conn net.Conn, req string) string {
	t.Helper()

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	return line
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig("", 5000)
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Address())
	assert.Equal(t, DefaultAcceptTimeout, cfg.AcceptTimeout())
	assert.Equal(t, DefaultMaxSessions, cfg.MaxSessions())
	assert.Equal(t, device.DefaultTickInterval, cfg.TickInterval())

	_, err = NewConfig("", 70000)
	require.Error(t, err)

	_, err = NewConfig("", 0, WithAcceptTimeout(time.Hour))
	require.Error(t, err)

	_, err = NewConfig("", 0, WithMaxSessions(0))
	require.Error(t, err)

	_, err = NewConfig("", 0, WithTickInterval(0))
	require.Error(t, err)

	_, err = NewConfig("", 0, WithLogger(nil))
	require.Error(t, err)
}

func TestNew_NilFactory(t *testing.T) {
	cfg, err := NewConfig("127.0.0.1", 0)
	require.NoError(t, err)

	_, err = New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, ErrNilFactory)
}

func TestServer_ServeRequests(t *testing.T) {
	created := make(chan *pingDevice, 1)
	srv := startServer(t, pingFactory(created))
	assert.Equal(t, Listening, srv.State())
	require.ErrorIs(t, srv.Start(), ErrAlreadyStarted)

	conn := dial(t, srv)
	assert.Equal(t, "PONG\r\n", request(t, conn, "PING\r\n"))

	dev := <-created
	require.Eventually(t, func() bool { return len(srv.Sessions()) == 1 }, time.Second, 10*time.Millisecond)

	id := srv.Sessions()[0]
	emu, ok := srv.Emulator(id)
	require.True(t, ok)
	assert.Same(t, dev, emu)

	latest, ok := srv.Latest()
	require.True(t, ok)
	assert.Same(t, dev, latest)
}

func TestServer_DevicePerConnection(t *testing.T) {
	created := make(chan *pingDevice, 2)
	srv := startServer(t, pingFactory(created))

	conn1 := dial(t, srv)
	conn2 := dial(t, srv)
	assert.Equal(t, "PONG\r\n", request(t, conn1, "PING\r\n"))
	assert.Equal(t, "PONG\r\n", request(t, conn2, "PING\r\n"))

	dev1, dev2 := <-created, <-created
	assert.NotSame(t, dev1, dev2)
	require.Eventually(t, func() bool { return len(srv.Sessions()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestServer_TicksStatefulDevice(t *testing.T) {
	created := make(chan *pingDevice, 1)
	srv := startServer(t, pingFactory(created), WithTickInterval(5*time.Millisecond))

	dial(t, srv)
	dev := <-created

	require.Eventually(t, func() bool { return dev.ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestServer_SessionEndsOnDisconnect(t *testing.T) {
	srv := startServer(t, pingFactory(nil))

	conn := dial(t, srv)
	assert.Equal(t, "PONG\r\n", request(t, conn, "PING\r\n"))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return len(srv.Sessions()) == 0 }, time.Second, 10*time.Millisecond)

	_, ok := srv.Latest()
	assert.False(t, ok)
}

func TestServer_MaxSessions(t *testing.T) {
	srv := startServer(t, pingFactory(nil), WithMaxSessions(1))

	conn1 := dial(t, srv)
	assert.Equal(t, "PONG\r\n", request(t, conn1, "PING\r\n"))

	conn2 := dial(t, srv)
	require.NoError(t, conn2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn2.Read(make([]byte, 1))
	require.Error(t, err, "connection over the limit must be closed")

	assert.Len(t, srv.Sessions(), 1)
}

func TestServer_FactoryError(t *testing.T) {
	srv := startServer(t, func() (device.Emulator, error) {
		return nil, errors.New("boom")
	})

	conn := dial(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	assert.Empty(t, srv.Sessions())
}

func TestServer_Close(t *testing.T) {
	srv := startServer(t, pingFactory(nil))

	assert.Equal(t, Listening, srv.State())
	require.ErrorIs(t, srv.Start(), ErrAlreadyStarted)

	conn := dial(t, srv)
	assert.Equal(t, "PONG\r\n", request(t, conn, "PING\r\n"))

	require.NoError(t, srv.Close())
	assert.Equal(t, Stopped, srv.State())
	assert.Empty(t, srv.Sessions())
	assert.Nil(t, srv.Addr())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)

	require.NoError(t, srv.Close(), "second close is a no-op")
}
