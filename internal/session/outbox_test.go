package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxKeepsOrder(t *testing.T) {
	o := NewOutbox(0)
	require.NoError(t, o.Push([]byte{1}))
	require.NoError(t, o.Push([]byte{2, 2}))

	frames, open := o.Pop()
	assert.True(t, open)
	assert.Equal(t, [][]byte{{1}, {2, 2}}, frames)

	n, size := o.Len()
	assert.Zero(t, n)
	assert.Zero(t, size)
}

func TestOutboxBudget(t *testing.T) {
	o := NewOutbox(4)
	require.NoError(t, o.Push([]byte{1, 2, 3}))
	assert.ErrorIs(t, o.Push([]byte{4, 5}), ErrOutboxOverflow)

	// последний кадр проходит сверх бюджета
	o.PushFinal([]byte{9, 9, 9})
	assert.ErrorIs(t, o.Push([]byte{1}), ErrOutboxClosed)

	frames, open := o.Pop()
	assert.False(t, open)
	assert.Equal(t, [][]byte{{1, 2, 3}, {9, 9, 9}}, frames)
}

func TestOutboxCloseWakesPop(t *testing.T) {
	o := NewOutbox(0)
	done := make(chan bool)
	go func() {
		_, open := o.Pop()
		done <- open
	}()

	time.Sleep(10 * time.Millisecond)
	o.Close()
	select {
	case open := <-done:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestOutboxPushWakesPop(t *testing.T) {
	o := NewOutbox(0)
	got := make(chan [][]byte)
	go func() {
		frames, _ := o.Pop()
		got <- frames
	}()

	require.NoError(t, o.Push([]byte("frame")))
	select {
	case frames := <-got:
		assert.Equal(t, [][]byte{[]byte("frame")}, frames)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}
