package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocExhaustion(t *testing.T) {
	p := NewPool(2)

	e1, err := p.Alloc(1, nil, nil, SystemInstanceID, Broadcast)
	require.NoError(t, err)
	_, err = p.Alloc(2, nil, nil, SystemInstanceID, Broadcast)
	require.NoError(t, err)

	_, err = p.Alloc(3, nil, nil, SystemInstanceID, Broadcast)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	assert.Equal(t, 2, p.Len())
	require.NoError(t, p.Release(e1))
	assert.Equal(t, 1, p.Len())
}

func TestPoolReleaseStillReferencedFails(t *testing.T) {
	p := NewPool(1)
	e, err := p.Alloc(1, nil, nil, SystemInstanceID, Broadcast)
	require.NoError(t, err)
	e.IncrementRefCount()

	assert.ErrorIs(t, p.Release(e), ErrStillReferenced)
}

func TestPoolReleaseAllowsReallocation(t *testing.T) {
	p := NewPool(1)
	e, err := p.Alloc(1, nil, nil, SystemInstanceID, Broadcast)
	require.NoError(t, err)
	require.NoError(t, p.Release(e))

	_, err = p.Alloc(2, nil, nil, SystemInstanceID, Broadcast)
	assert.NoError(t, err)
}

// TestPoolAllocConcurrentCallersStayConsistent exercises Alloc from many
// goroutines at once, the same hazard as the timer pool's hardware expiry
// callback racing EventLoop.PostEvent against the loop thread: every
// successful allocation must land on a distinct slot.
func TestPoolAllocConcurrentCallersStayConsistent(t *testing.T) {
	const capacity = 64
	p := NewPool(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := p.Alloc(1, nil, nil, SystemInstanceID, Broadcast)
			require.NoError(t, err)
			mu.Lock()
			seen[e.slot] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, capacity)
	assert.Equal(t, capacity, p.Len())
	_, err := p.Alloc(2, nil, nil, SystemInstanceID, Broadcast)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
