package server

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestLifecycle(t *testing.T) {
	var l lifecycle
	assert.Equal(t, Stopped, l.get())

	assert.False(t, l.listening(), "stopped cannot listen")
	assert.False(t, l.drain(), "stopped cannot drain")

	assert.True(t, l.begin())
	assert.False(t, l.begin(), "second start must fail")
	assert.True(t, l.listening())
	assert.Equal(t, Listening, l.get())

	assert.True(t, l.drain())
	assert.False(t, l.drain())
	assert.True(t, l.stopped())
	assert.False(t, l.stopped())

	// restart, then abort a failed start
	assert.True(t, l.begin())
	l.abort()
	assert.Equal(t, Stopped, l.get())

	assert.True(t, l.begin())
	assert.True(t, l.drain(), "a starting server can be closed")
}

func TestLifecycle_ConcurrentBegin(t *testing.T) {
	var (
		l    lifecycle
		wins atomic.Int32
		wg   sync.WaitGroup
	)

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.begin() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
