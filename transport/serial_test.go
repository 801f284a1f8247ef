package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort mimics the driver: a read waits up to the read timeout and
// returns (0, nil) when nothing arrived.
type fakePort struct {
	mu      sync.Mutex
	timeout time.Duration
	data    chan []byte
	closed  chan struct{}
	once    sync.Once
	written []byte
}

func newFakePort() *fakePort {
	return &fakePort{timeout: serial.NoTimeout, data: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakePort) Read(b []byte) (int, error) {
	f.mu.Lock()
	timeout := f.timeout
	f.mu.Unlock()

	var expire <-chan time.Time
	if timeout >= 0 {
		expire = time.After(timeout)
	}

	select {
	case chunk := <-f.data:
		return copy(b, chunk), nil
	case <-expire:
		return 0, nil
	case <-f.closed:
		return 0, errors.New("port closed")
	}
}

func (f *fakePort) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, b...)

	return len(b), nil
}

func (f *fakePort) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = t

	return nil
}

func TestPort_ReadWrite(t *testing.T) {
	fp := newFakePort()
	p := newPort("/dev/ttyFAKE", fp)
	assert.Equal(t, "/dev/ttyFAKE", p.Path())

	fp.data <- []byte("VER\r")
	buf := make([]byte, 16)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "VER\r", string(buf[:n]))

	_, err = p.Write([]byte("#AK\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "#AK\r\n", string(fp.written))
}

func TestPort_ReadDeadline(t *testing.T) {
	fp := newFakePort()
	p := newPort("fake", fp)

	require.NoError(t, p.SetReadDeadline(time.Now().Add(30*time.Millisecond)))

	start := time.Now()
	_, err := p.Read(make([]byte, 4))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	require.NoError(t, p.SetReadDeadline(time.Time{}))
	fp.mu.Lock()
	assert.Equal(t, serial.NoTimeout, fp.timeout)
	fp.mu.Unlock()
}

func TestPort_DataBeforeDeadline(t *testing.T) {
	fp := newFakePort()
	p := newPort("fake", fp)

	require.NoError(t, p.SetReadDeadline(time.Now().Add(time.Second)))
	go func() {
		time.Sleep(10 * time.Millisecond)
		fp.data <- []byte("x")
	}()

	buf := make([]byte, 1)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPort_Close(t *testing.T) {
	fp := newFakePort()
	p := newPort("fake", fp)

	done := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 1))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read not released by close")
	}

	_, err := p.Write([]byte("x"))
	require.ErrorIs(t, err, net.ErrClosed)
}

func TestSerialOptions(t *testing.T) {
	mode := &serial.Mode{}
	require.NoError(t, WithDataBits(7)(mode))
	require.NoError(t, WithParity("E")(mode))
	require.NoError(t, WithTwoStopBits()(mode))
	assert.Equal(t, 7, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	require.Error(t, WithDataBits(9)(mode))
	require.Error(t, WithParity("X")(mode))

	_, err := OpenSerial("/dev/does-not-exist", -1)
	require.Error(t, err)
}
