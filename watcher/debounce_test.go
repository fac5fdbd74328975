package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_Coalesces(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	d := newDebouncer(10*time.Millisecond, done)
	defer d.stop()

	d.schedule("a.json", ActionIndex)
	d.schedule("a.json", ActionDelete)

	var tk tick
	select {
	case tk = <-d.ready:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	action, ok := d.take(tk)
	require.True(t, ok)
	assert.Equal(t, "a.json", tk.path)
	assert.Equal(t, ActionDelete, action)

	_, ok = d.take(tk)
	assert.False(t, ok)
}

func TestDebouncer_FiredTimerSuperseded(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	d := newDebouncer(time.Hour, done)
	defer d.stop()

	d.schedule("a.json", ActionIndex)
	// the first timer has fired and its tick is queued,
	// then a new event arrives before the tick is drained
	fired := tick{path: "a.json", seq: d.pending["a.json"].seq}
	d.schedule("a.json", ActionDelete)

	_, ok := d.take(fired)
	assert.False(t, ok, "a replaced timer must not deliver the newer action early")

	current := tick{path: "a.json", seq: d.pending["a.json"].seq}
	action, ok := d.take(current)
	require.True(t, ok)
	assert.Equal(t, ActionDelete, action)
}

func TestDebouncer_PathsAreIndependent(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	d := newDebouncer(time.Hour, done)
	defer d.stop()

	d.schedule("a.json", ActionIndex)
	d.schedule("b.json", ActionDelete)

	action, ok := d.take(tick{path: "b.json", seq: d.pending["b.json"].seq})
	require.True(t, ok)
	assert.Equal(t, ActionDelete, action)

	action, ok = d.take(tick{path: "a.json", seq: d.pending["a.json"].seq})
	require.True(t, ok)
	assert.Equal(t, ActionIndex, action)
}
