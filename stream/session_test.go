package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-labemu/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLocker struct {
	sync.Mutex
	locks int
}

func (l *countingLocker) Lock() {
	l.Mutex.Lock()
	l.locks++
}

func TestSession_EndToEnd(t *testing.T) {
	locker := &countingLocker{}
	proto := newTestProtocol(t, []Command{literal("volt", "VOLT?", "5.0000000000000E+00")},
		WithInTerminator("\n"), WithOutTerminator("\n"))

	sess, remote, done := serveSession(t, proto, WithLocker(locker), WithSessionID("s1"))
	assert.Equal(t, "s1", sess.ID())

	mustWrite(t, remote, "VOLT?\n")
	assert.Equal(t, "5.0000000000000E+00\n", readExactly(t, remote, len("5.0000000000000E+00\n")))

	// unmatched requests are dropped without reply
	mustWrite(t, remote, "FOO\n")
	mustWrite(t, remote, "VOLT?\n")
	assert.Equal(t, "5.0000000000000E+00\n", readExactly(t, remote, len("5.0000000000000E+00\n")))

	require.NoError(t, remote.Close())
	require.NoError(t, waitResult(t, done))

	m := sess.Metrics()
	assert.Equal(t, uint64(3), m.RequestCount.Load())
	assert.Equal(t, uint64(2), m.ReplyCount.Load())
	assert.Equal(t, uint64(1), m.NoMatchCount.Load())

	locker.Lock()
	assert.Equal(t, 4, locker.locks)
	locker.Unlock()
}

func TestSession_ErrorHookReply(t *testing.T) {
	proto := newTestProtocol(t, []Command{literal("volt", "VOLT?", "1")},
		WithErrorHandler(func(request string, _ error) Reply {
			return Text(request + ":INVALID")
		}))

	_, remote, _ := serveSession(t, proto)

	mustWrite(t, remote, "FOO\r\n")
	assert.Equal(t, "FOO:INVALID\r\n", readExactly(t, remote, len("FOO:INVALID\r\n")))
}

func TestSession_EnquiryAlternation(t *testing.T) {
	units := "0"
	proto := newTestProtocol(t, []Command{
		literal("get_pressure", "PRX", "0,1.0,0,2.0"),
		Bind(pattern.New("set_units").Escape("UNI").Enum("0", "1", "2").MustBuild(), Action(func(args pattern.Args) error {
			units = args.String(0)
			return nil
		})),
		Bind(pattern.New("get_units").Escape("UNI").EOS().MustBuild(), Query(func() string { return units })),
	}, WithEnquiry(ENQ, ACK), WithErrorHandler(func(string, error) Reply {
		return Text(string([]byte{NAK}))
	}))

	sess, remote, _ := serveSession(t, proto)

	mustWrite(t, remote, "PRX\r\n")
	assert.Equal(t, "\x06\r\n", readExactly(t, remote, 3))
	mustWrite(t, remote, "\x05")
	assert.Equal(t, "0,1.0,0,2.0\r\n", readExactly(t, remote, len("0,1.0,0,2.0\r\n")))

	// nothing pending any more
	mustWrite(t, remote, "\x05")
	assert.Equal(t, "\x15\r\n", readExactly(t, remote, 3))

	mustWrite(t, remote, "UNI2\r\n")
	assert.Equal(t, "\x06\r\n", readExactly(t, remote, 3))
	mustWrite(t, remote, "UNI\r\n")
	assert.Equal(t, "\x06\r\n", readExactly(t, remote, 3))
	mustWrite(t, remote, "\x05\r\n")
	assert.Equal(t, "2\r\n", readExactly(t, remote, 3))

	assert.Equal(t, uint64(3), sess.Metrics().EnquiryCount.Load())
}

func TestSession_ReadTimeout(t *testing.T) {
	proto := newTestProtocol(t, nil, WithReadTimeout(50*time.Millisecond))
	sess, remote, done := serveSession(t, proto)

	go func() {
		_, _ = remote.Write([]byte("PART"))
	}()

	err := waitResult(t, done)
	require.Error(t, err)
	assert.True(t, isTimeoutError(err))
	assert.True(t, sess.Closed())
	assert.Equal(t, uint64(0), sess.Metrics().RequestCount.Load())
	assert.Equal(t, uint64(1), sess.Metrics().DroppedFrameCount.Load())
}

func TestSession_ContextCancel(t *testing.T) {
	proto := newTestProtocol(t, nil)
	local, _ := newPipeConn(t)
	sess := NewSession(local, proto)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sess.Serve(ctx)
	}()

	cancel()
	require.ErrorIs(t, waitResult(t, done), context.Canceled)
	assert.True(t, sess.Closed())

	require.ErrorIs(t, sess.Serve(context.Background()), ErrSessionClosed)
	require.NoError(t, sess.Close())
}

func TestSession_Process(t *testing.T) {
	proto := newTestProtocol(t, []Command{literal("idn", "*IDN?", "emu")}, WithOutTerminator("\n"))
	local, _ := newPipeConn(t)
	sess := NewSession(local, proto)

	assert.Equal(t, []byte("emu\n"), sess.Process("*IDN?"))
	assert.Nil(t, sess.Process("*IDN"))
	assert.Equal(t, proto, sess.Protocol())
}
