package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFOOrder(t *testing.T) {
	r := NewRingQueue[int](3)
	require.NoError(t, r.Push(1))
	require.NoError(t, r.Push(2))
	require.NoError(t, r.Push(3))
	assert.ErrorIs(t, r.Push(4), ErrFull)

	v, err := r.Pop()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, r.Push(4))

	for _, want := range []int{2, 3, 4} {
		got, err := r.Pop()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = r.Pop()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRingQueueWrapsAroundBuffer(t *testing.T) {
	r := NewRingQueue[int](2)
	_ = r.Push(1)
	_, _ = r.Pop()
	_ = r.Push(2)
	_ = r.Push(3)

	assert.Equal(t, 2, r.Len())
	v, _ := r.Peek()
	assert.Equal(t, 2, v)
}
