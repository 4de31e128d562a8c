package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
)

func TestPushPopOrdering(t *testing.T) {
	q := New(4)
	e1 := &event.Event{Type: 1}
	e2 := &event.Event{Type: 2}
	require.NoError(t, q.Push(e1))
	require.NoError(t, q.Push(e2))

	got1, ok := q.Pop()
	require.True(t, ok)
	got2, ok := q.Pop()
	require.True(t, ok)

	assert.Same(t, e1, got1)
	assert.Same(t, e2, got2)
}

func TestPushReturnsErrQueueFull(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Push(&event.Event{Type: 1}))
	assert.ErrorIs(t, q.Push(&event.Event{Type: 2}), ErrQueueFull)
}

func TestPushAfterStopReturnsErrStopped(t *testing.T) {
	q := New(1)
	q.Stop()
	assert.ErrorIs(t, q.Push(&event.Event{Type: 1}), ErrStopped)
}

func TestStopUnblocksPendingPop(t *testing.T) {
	q := New(1)
	done := make(chan bool, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := q.Pop()
		done <- ok
	}()

	q.Stop()
	wg.Wait()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Stop")
	}
}

func TestStopStillDrainsBufferedEvents(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Push(&event.Event{Type: 1}))
	q.Stop()

	e, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, event.Type(1), e.Type)

	_, ok = q.Pop()
	assert.False(t, ok)
}
