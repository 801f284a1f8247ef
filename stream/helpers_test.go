package stream

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/arloliu/go-labemu/pattern"
	"github.com/stretchr/testify/require"
)

// newTestProtocol creates a protocol or fails the test.
func newTestProtocol(t *testing.T, cmds []Command, opts ...Option) *Protocol {
	t.Helper()

	proto, err := NewProtocol("test", cmds, opts...)
	require.NoError(t, err)

	return proto
}

// literal builds a command replying with a fixed text to an exact request.
func literal(name, request, reply string) Command {
	return Bind(pattern.New(name).Escape(request).EOS().MustBuild(), func(pattern.Args) (Reply, error) {
		return Text(reply), nil
	})
}

// newPipeConn creates a net.Pipe pair and registers cleanup.
func newPipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return local, remote
}

// serveSession starts a session on the local end of a pipe and returns the
// remote end together with a channel receiving the Serve result.
func serveSession(t *testing.T, proto *Protocol, opts ...SessionOption) (*Session, net.Conn, <-chan error) {
	t.Helper()

	local, remote := newPipeConn(t)
	sess := NewSession(local, proto, opts...)

	done := make(chan error, 1)
	go func() {
		done <- sess.Serve(context.Background())
	}()
	t.Cleanup(func() { _ = sess.Close() })

	return sess, remote, done
}

// mustWrite writes data to w, failing the test on error.
func mustWrite(t *testing.T, w io.Writer, data string) {
	t.Helper()

	_, err := w.Write([]byte(data))
	require.NoError(t, err)
}

// readExactly reads exactly n bytes from conn within one second.
func readExactly(t *testing.T, conn net.Conn, n int) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)

	return string(buf)
}

// waitResult waits for a Serve result.
func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}
