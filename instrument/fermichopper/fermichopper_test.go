package fermichopper

import (
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-labemu/checksum"
	"github.com/arloliu/go-labemu/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mapsCodec = checksum.New(checksum.SumSkipMarker)

func newMaps(t *testing.T) (*Emulator, *stream.Session) {
	t.Helper()

	e, err := New()
	require.NoError(t, err)

	return e, stream.NewSession(nopConn{}, e.Protocol(), stream.WithLocker(e))
}

// poll requests the status block and returns its frames.
func poll(t *testing.T, sess *stream.Session) []checksum.Frame {
	t.Helper()

	reply := string(sess.Process(mapsCodec.MustAppend("#00000")))
	frames, err := mapsCodec.ParseFrames(reply, "$")
	require.NoError(t, err, reply)
	require.Len(t, frames, 14)

	return frames
}

func send(t *testing.T, sess *stream.Session, data string) {
	t.Helper()

	out := sess.Process(mapsCodec.MustAppend(data))
	require.Empty(t, string(out))
}

func TestMaps_DefaultStatusBlock(t *testing.T) {
	_, sess := newMaps(t)
	frames := poll(t, sess)

	headers := make([]string, 0, len(frames))
	for _, f := range frames {
		headers = append(headers, f.Header)
	}
	assert.Equal(t, []string{"#1", "#2", "#3", "#4", "#5", "#6", "#7", "#8", "#9", "#A", "#B", "#C", "#D", "#E"}, headers)

	assert.Equal(t, "0000", frames[0].Payload)
	// ok, at setpoint, magnetic bearing, HET_MARI
	assert.Equal(t, "010B", frames[1].Payload)
	assert.Equal(t, "0000", frames[3].Payload)
	// autozero of 0 V
	assert.Equal(t, "01FF", frames[10].Payload)
}

func TestMaps_SpinUpAndDown(t *testing.T) {
	e, sess := newMaps(t)

	send(t, sess, "#30BB8") // 3000 rpm
	send(t, sess, "#10001")

	require.NoError(t, e.Tick(time.Second))
	assert.Equal(t, string(StateAccelerating), e.State())
	require.NoError(t, e.Tick(time.Second))
	assert.Equal(t, string(StateAtSpeed), e.State())

	frames := poll(t, sess)
	assert.Equal(t, "0001", frames[0].Payload)
	// ok, at setpoint, bearing, voltage, drive, HET_MARI
	assert.Equal(t, "013B", frames[1].Payload)
	assert.Equal(t, "0BB8", frames[2].Payload)
	assert.Equal(t, "0BB8", frames[3].Payload)
	assert.Equal(t, "0049", frames[9].Payload)

	send(t, sess, "#10002")
	require.NoError(t, e.Tick(time.Second))
	assert.Equal(t, string(StateDecelerating), e.State())
	require.NoError(t, e.Tick(time.Second))
	assert.Equal(t, string(StateStopped), e.State())

	frames = poll(t, sess)
	assert.Equal(t, "0002", frames[0].Payload)
	assert.Equal(t, "0000", frames[3].Payload)
}

func TestMaps_DelayAndGateWidth(t *testing.T) {
	e, sess := newMaps(t)

	send(t, sess, "#51234")
	send(t, sess, "#60001")
	send(t, sess, "#90120")

	frames := poll(t, sess)
	assert.Equal(t, "1234", frames[4].Payload)
	assert.Equal(t, "0001", frames[5].Payload)
	assert.Equal(t, "0000", frames[6].Payload, "actual delay settles at speed only")
	assert.Equal(t, "0120", frames[8].Payload)

	v, err := e.Attributes().Get("gate_width")
	require.NoError(t, err)
	assert.Equal(t, "288", v)
}

func TestMaps_StatusFlags(t *testing.T) {
	e, sess := newMaps(t)
	require.NoError(t, e.Attributes().Set("parameters", MerlinLarge))
	require.NoError(t, e.Attributes().Set("autozero_1_lower", "-3.5"))
	require.NoError(t, e.Attributes().Set("speed", "700"))
	send(t, sess, "#10006")

	frames := poll(t, sess)
	// ok, MERLIN_LARGE, over 600 Hz, spinning without bearing, autozero out of range
	assert.Equal(t, "1C41", frames[1].Payload)
}

func TestMaps_Errors(t *testing.T) {
	_, sess := newMaps(t)

	out := string(sess.Process("#1000100"))
	assert.Contains(t, out, "checksum: mismatch")
	assert.False(t, strings.HasSuffix(out, "\n"))

	out = string(sess.Process(mapsCodec.MustAppend("#10004")))
	assert.Contains(t, out, "invalid command 0004")

	out = string(sess.Process("garbage"))
	assert.Contains(t, out, "no matching command")
}

func TestLegacy(t *testing.T) {
	e, err := NewLegacy()
	require.NoError(t, err)
	assert.Equal(t, LegacyName, e.Name())
	sess := stream.NewSession(nopConn{}, e.Protocol(), stream.WithLocker(e))

	assert.Empty(t, sess.Process("#1000115$"))

	out := string(sess.Process("#0000000$"))
	require.True(t, strings.HasSuffix(out, "\n"))
	assert.True(t, strings.HasPrefix(out, "#1000115#2003F2E"), out)

	frames, err := checksum.Default.ParseFrames(strings.TrimSuffix(out, "\n"), "")
	require.NoError(t, err)
	require.Len(t, frames, 17)
	assert.Equal(t, "#H", frames[16].Header)

	out = string(sess.Process("#1000418$"))
	assert.Contains(t, out, "invalid command 0004")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestWord(t *testing.T) {
	assert.Equal(t, "0000", word(-5))
	assert.Equal(t, "FFFF", word(1e9))
	assert.Equal(t, "01FF", word(510.95))
}

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)    { return 0, nil }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }
