package device

import (
	"context"
	"testing"
	"time"

	"github.com/arloliu/go-labemu/logger"
	"github.com/arloliu/go-labemu/statemachine"
	"github.com/arloliu/go-labemu/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type heaterSnapshot struct {
	temperature float64
	setpoint    float64
}

type fakeHeater struct {
	*Base
	temperature float64
	setpoint    float64
	panicGuard  bool
	machine     *statemachine.Machine[heaterSnapshot]
}

func newFakeHeater(t *testing.T) *fakeHeater {
	t.Helper()

	h := &fakeHeater{Base: NewBase("heater"), temperature: 10}
	h.Attributes().Register("temperature", Float(&h.temperature))
	h.Attributes().Register("setpoint", Float(&h.setpoint))

	m, err := statemachine.New("idle", h.snapshot,
		statemachine.WithState[heaterSnapshot]("heating", statemachine.Hooks{
			InState: func(dt time.Duration) { h.temperature++ },
		}),
		statemachine.WithTransition[heaterSnapshot]("idle", "heating", func(s heaterSnapshot) bool {
			if h.panicGuard {
				panic("guard failure")
			}
			return s.setpoint > s.temperature
		}),
		statemachine.WithTransition[heaterSnapshot]("heating", "idle", func(s heaterSnapshot) bool {
			return s.temperature >= s.setpoint
		}),
	)
	require.NoError(t, err)
	h.machine = m

	return h
}

func (h *fakeHeater) snapshot() heaterSnapshot {
	return heaterSnapshot{temperature: h.temperature, setpoint: h.setpoint}
}

func (h *fakeHeater) Protocol() *stream.Protocol {
	return nil
}

func (h *fakeHeater) Tick(dt time.Duration) error {
	_, err := h.machine.Tick(dt)
	return err
}

func (h *fakeHeater) State() string {
	return string(h.machine.Current())
}

type plainDevice struct {
	*Base
}

func (plainDevice) Protocol() *stream.Protocol { return nil }

func TestRunner_Step(t *testing.T) {
	h := newFakeHeater(t)
	r, err := NewRunner(context.Background(), h)
	require.NoError(t, err)

	require.NoError(t, r.Step(time.Millisecond))
	assert.Equal(t, "idle", h.State())

	require.NoError(t, h.Attributes().Set("setpoint", "12"))
	require.NoError(t, r.Step(time.Millisecond))
	assert.Equal(t, "heating", h.State())

	require.NoError(t, r.Step(time.Millisecond))
	require.NoError(t, r.Step(time.Millisecond))
	assert.Equal(t, "idle", h.State())
	assert.InDelta(t, 12.0, h.temperature, 1e-9)
}

func TestRunner_Start(t *testing.T) {
	h := newFakeHeater(t)
	r, err := NewRunner(context.Background(), h, WithTickInterval(5*time.Millisecond))
	require.NoError(t, err)

	h.Lock()
	h.setpoint = 15
	h.Unlock()

	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	assert.Eventually(t, func() bool {
		h.Lock()
		defer h.Unlock()
		return h.temperature >= 15 && h.State() == "idle"
	}, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	select {
	case <-r.Done():
	default:
		t.Fatal("runner not done after Stop")
	}
	require.NoError(t, r.Err())
}

func TestRunner_GuardErrorStopsRunner(t *testing.T) {
	h := newFakeHeater(t)
	h.panicGuard = true

	r, err := NewRunner(context.Background(), h, WithTickInterval(5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	require.ErrorIs(t, r.Err(), statemachine.ErrTransitionGuard)
	assert.Equal(t, "idle", h.State())
}

func TestNewRunner_Errors(t *testing.T) {
	_, err := NewRunner(context.Background(), plainDevice{NewBase("plain")})
	require.ErrorIs(t, err, ErrNotTicker)

	_, err = NewRunner(context.Background(), newFakeHeater(t), WithTickInterval(0))
	require.Error(t, err)

	_, err = NewRunner(context.Background(), newFakeHeater(t), WithRunnerLogger(nil))
	require.Error(t, err)
}

func TestAttributes(t *testing.T) {
	var (
		volt  = 1.5
		count = 3
		on    bool
		name  = "x"
		unit  = "VPP"
	)

	attrs := NewAttributes()
	attrs.Register("volt", Float(&volt))
	attrs.Register("count", Int(&count))
	attrs.Register("on", Bool(&on))
	attrs.Register("name", String(&name))
	attrs.Register("unit", OneOf(&unit, "VPP", "VRMS"))
	attrs.Register("state", ReadOnly(func() string { return "idle" }))

	assert.Equal(t, []string{"count", "name", "on", "state", "unit", "volt"}, attrs.Names())

	v, err := attrs.Get("volt")
	require.NoError(t, err)
	assert.Equal(t, "1.5", v)

	require.NoError(t, attrs.Set("volt", "2.25"))
	assert.InDelta(t, 2.25, volt, 1e-12)
	require.NoError(t, attrs.Set("count", "7"))
	assert.Equal(t, 7, count)
	require.NoError(t, attrs.Set("on", "true"))
	assert.True(t, on)
	require.NoError(t, attrs.Set("name", "y"))
	assert.Equal(t, "y", name)
	require.NoError(t, attrs.Set("unit", "VRMS"))
	assert.Equal(t, "VRMS", unit)

	require.ErrorIs(t, attrs.Set("volt", "abc"), ErrInvalidValue)
	require.ErrorIs(t, attrs.Set("count", "1.5"), ErrInvalidValue)
	require.ErrorIs(t, attrs.Set("on", "maybe"), ErrInvalidValue)
	require.ErrorIs(t, attrs.Set("unit", "DBM"), ErrInvalidValue)
	require.ErrorIs(t, attrs.Set("state", "x"), ErrReadOnlyAttribute)
	require.ErrorIs(t, attrs.Set("missing", "x"), ErrUnknownAttribute)

	_, err = attrs.Get("missing")
	require.ErrorIs(t, err, ErrUnknownAttribute)

	assert.Panics(t, func() { attrs.Register("volt", Float(&volt)) })
	assert.Panics(t, func() { attrs.Register("", Float(&volt)) })
}

func TestBase_Connected(t *testing.T) {
	b := NewBase("dev")
	assert.True(t, b.Connected())
	b.SetConnected(false)
	assert.False(t, b.Connected())
	assert.Equal(t, "dev", b.Name())
}

func TestRunner_TickErrorIsLogged(t *testing.T) {
	h := newFakeHeater(t)
	h.panicGuard = true

	l := logger.NewMockLogger()
	l.ExpectError("device: tick failed, runner stopped")

	r, err := NewRunner(context.Background(), h, WithRunnerLogger(l))
	require.NoError(t, err)

	require.ErrorIs(t, r.Step(time.Millisecond), statemachine.ErrTransitionGuard)
	l.AssertExpectations(t)
	require.ErrorIs(t, r.Err(), statemachine.ErrTransitionGuard)
}
