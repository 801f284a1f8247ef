package tpg26x

import (
	"testing"

	"github.com/arloliu/go-labemu/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ack = "\x06\r\n"
	enq = "\x05"
)

func TestEnquiryAlternation(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	require.NoError(t, e.Attributes().Set("pressure2", "0.00125"))
	sess := stream.NewSession(nopConn{}, e.Protocol(), stream.WithLocker(e))

	assert.Equal(t, ack, string(sess.Process("PRX")))
	assert.Equal(t, "0,1.0000E+00,0,1.2500E-03\r\n", string(sess.Process(enq)))

	assert.Equal(t, ack, string(sess.Process("UNI")))
	assert.Equal(t, "0\r\n", string(sess.Process(enq)))

	assert.Equal(t, ack, string(sess.Process("UNI,1")))
	assert.Equal(t, "1\r\n", string(sess.Process(enq)))

	assert.Equal(t, ack, string(sess.Process("UNI")))
	assert.Equal(t, "1\r\n", string(sess.Process(enq)))
}

func TestEnquiryWithoutCommand(t *testing.T) {
	var got error
	e, err := New(stream.WithErrorHandler(func(_ string, err error) stream.Reply {
		got = err
		return stream.Text(string(stream.NAK))
	}))
	require.NoError(t, err)
	sess := stream.NewSession(nopConn{}, e.Protocol())

	assert.Equal(t, "\x15\r\n", string(sess.Process(enq)))
	require.ErrorIs(t, got, stream.ErrNoPendingEnquiry)

	// a second enquiry after a released reply has nothing pending
	assert.Equal(t, ack, string(sess.Process("PRX")))
	assert.NotEmpty(t, sess.Process(enq))
	assert.Equal(t, "\x15\r\n", string(sess.Process(enq)))
}

func TestGaugeStatus(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	require.NoError(t, e.Attributes().Set("status1", "4"))
	sess := stream.NewSession(nopConn{}, e.Protocol())

	sess.Process("PRX")
	assert.Equal(t, "4,1.0000E+00,0,1.0000E+00\r\n", string(sess.Process(enq)))
}

func TestInvalidUnits(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	sess := stream.NewSession(nopConn{}, e.Protocol())

	assert.Empty(t, sess.Process("UNI,7"))
	assert.Empty(t, sess.Process(enq), "a failed command leaves nothing pending")
}

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)    { return 0, nil }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }
