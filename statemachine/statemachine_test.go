package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flag struct {
	on bool
}

func newTwoState(t *testing.T, g *flag, opts ...Option[flag]) *Machine[flag] {
	t.Helper()

	opts = append([]Option[flag]{
		WithTransition[flag]("A", "B", func(s flag) bool { return s.on }),
	}, opts...)

	m, err := New("A", func() flag { return *g }, opts...)
	require.NoError(t, err)

	return m
}

func TestMachine_TwoStateGuard(t *testing.T) {
	g := &flag{}
	m := newTwoState(t, g)

	assert.Equal(t, State("A"), m.Current())

	changed, err := m.Tick(time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, State("A"), m.Current())

	g.on = true
	changed, err = m.Tick(time.Millisecond)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, State("B"), m.Current())

	changed, err = m.Tick(time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, State("B"), m.Current())
}

func TestMachine_FirstTickEvaluatesGuards(t *testing.T) {
	g := &flag{on: true}
	m := newTwoState(t, g)

	changed, err := m.Tick(0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, State("B"), m.Current())
}

func TestMachine_HooksOrder(t *testing.T) {
	var events []string
	record := func(e string) func() {
		return func() { events = append(events, e) }
	}

	g := &flag{}
	m := newTwoState(t, g,
		WithState[flag]("A", Hooks{
			OnEntry: record("enter A"),
			InState: func(time.Duration) { events = append(events, "in A") },
			OnExit:  record("exit A"),
		}),
		WithState[flag]("B", Hooks{OnEntry: record("enter B")}),
		WithHandler[flag](func(prev, next State) {
			events = append(events, "handler "+string(prev)+"->"+string(next))
		}),
	)

	_, err := m.Tick(0)
	require.NoError(t, err)
	g.on = true
	_, err = m.Tick(0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"enter A", "in A",
		"in A", "exit A", "enter B", "handler A->B",
	}, events)
}

func TestMachine_InStateRunsBeforeGuards(t *testing.T) {
	g := &flag{}
	m, err := New("A", func() flag { return *g },
		WithState[flag]("A", Hooks{InState: func(time.Duration) { g.on = true }}),
		WithTransition[flag]("A", "B", func(s flag) bool { return s.on }),
	)
	require.NoError(t, err)

	changed, err := m.Tick(0)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestMachine_FirstTrueGuardWins(t *testing.T) {
	m, err := New("A", func() flag { return flag{on: true} },
		WithTransition[flag]("A", "B", func(flag) bool { return false }),
		WithTransition[flag]("A", "C", func(flag) bool { return true }),
		WithTransition[flag]("A", "D", func(flag) bool { return true }),
		WithTransition[flag]("C", "A", func(flag) bool { return true }),
	)
	require.NoError(t, err)

	_, err = m.Tick(0)
	require.NoError(t, err)
	assert.Equal(t, State("C"), m.Current())

	_, err = m.Tick(0)
	require.NoError(t, err)
	assert.Equal(t, State("A"), m.Current())

	assert.Equal(t, []State{"A", "B", "C", "D"}, m.States())
}

func TestMachine_SelfTransition(t *testing.T) {
	exits := 0
	m, err := New("A", func() flag { return flag{} },
		WithState[flag]("A", Hooks{OnExit: func() { exits++ }}),
		WithTransition[flag]("A", "A", func(flag) bool { return true }),
		WithTransition[flag]("A", "B", func(flag) bool { return true }),
	)
	require.NoError(t, err)

	changed, err := m.Tick(0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, State("A"), m.Current())
	assert.Equal(t, 0, exits)
}

func TestMachine_SingleState(t *testing.T) {
	m, err := New[flag]("only", nil)
	require.NoError(t, err)

	for range 3 {
		changed, err := m.Tick(time.Second)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.Equal(t, State("only"), m.Current())
	assert.Equal(t, State("only"), m.Initial())
}

func TestMachine_GuardPanic(t *testing.T) {
	m, err := New("A", func() flag { return flag{} },
		WithTransition[flag]("A", "B", func(flag) bool { panic("broken sensor") }),
	)
	require.NoError(t, err)

	changed, err := m.Tick(0)
	assert.False(t, changed)
	require.ErrorIs(t, err, ErrTransitionGuard)

	var guardErr *TransitionGuardError
	require.ErrorAs(t, err, &guardErr)
	assert.Equal(t, State("A"), guardErr.From)
	assert.Equal(t, State("B"), guardErr.To)
	assert.Equal(t, "broken sensor", guardErr.Panic)
	assert.Equal(t, State("A"), m.Current())
}

func TestMachine_InvalidDefinition(t *testing.T) {
	_, err := New[flag]("", nil)
	require.ErrorIs(t, err, ErrInvalidMachine)

	_, err = New("A", func() flag { return flag{} }, WithTransition[flag]("A", "B", nil))
	require.ErrorIs(t, err, ErrInvalidMachine)

	_, err = New("A", func() flag { return flag{} }, WithTransition[flag]("", "B", func(flag) bool { return true }))
	require.ErrorIs(t, err, ErrInvalidMachine)

	_, err = New("A", func() flag { return flag{} }, WithHandler[flag](nil))
	require.ErrorIs(t, err, ErrInvalidMachine)

	_, err = New("A", func() flag { return flag{} }, WithLogger[flag](nil))
	require.ErrorIs(t, err, ErrInvalidMachine)
}
