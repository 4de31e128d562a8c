package event

import (
	"errors"
	"sync"
)

// ErrOutOfMemory is returned when the pool has no free slots left.
var ErrOutOfMemory = errors.New("event: pool exhausted")

// ErrStillReferenced is returned by Release when called on an event whose
// reference count has not reached zero.
var ErrStillReferenced = errors.New("event: freed while still referenced")

// Pool is a fixed-capacity slab allocator for Events. Allocation and
// release of slots is synchronized, since Alloc is called not only from
// the loop thread (via EventLoop.PostEvent) but also directly from
// producer threads that post into the loop from outside it — the timer
// pool's hardware expiry callback, and any future host-indication path.
// Reference-count mutation on an already-allocated *Event remains
// loop-thread-only and unsynchronized, as documented on Event itself.
type Pool struct {
	mu    sync.Mutex
	slab  []Event
	free  []int // indices of unused slots, LIFO
	inUse []bool
}

// NewPool constructs a Pool with room for exactly capacity concurrently
// live Events.
func NewPool(capacity int) *Pool {
	p := &Pool{
		slab:  make([]Event, capacity),
		free:  make([]int, capacity),
		inUse: make([]bool, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free[i] = capacity - 1 - i
		p.slab[i].slot = -1
	}
	return p
}

// Alloc returns a freshly constructed Event with refcount zero, or
// ErrOutOfMemory if the pool is exhausted. Safe for concurrent callers.
func (p *Pool) Alloc(t Type, payload any, free FreeCallback, sender, target InstanceID) (*Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil, ErrOutOfMemory
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true

	p.slab[idx] = Event{
		Type:             t,
		Payload:          payload,
		Free:             free,
		SenderInstanceID: sender,
		TargetInstanceID: target,
		slot:             idx,
	}
	return &p.slab[idx], nil
}

// Release returns a zero-refcount Event's slot to the pool. Releasing an
// event that is still referenced is a caller bug: ErrStillReferenced is
// returned rather than silently corrupting the slab. Safe for concurrent
// callers: the loop thread releases events whose refcount reached zero,
// and EventLoop.PostEvent, on any posting goroutine, releases a slot it
// allocated but could not enqueue.
func (p *Pool) Release(e *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := e.slot
	if idx < 0 || idx >= len(p.slab) || &p.slab[idx] != e {
		return errors.New("event: release of event not owned by this pool")
	}
	if !e.IsUnreferenced() {
		return ErrStillReferenced
	}
	if !p.inUse[idx] {
		return errors.New("event: double release")
	}
	p.inUse[idx] = false
	p.slab[idx] = Event{slot: -1}
	p.free = append(p.free, idx)
	return nil
}

// Len reports the number of currently allocated (in-use) slots.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slab) - len(p.free)
}

// Cap reports the pool's fixed capacity. The slab is never resized after
// NewPool, so this needs no lock.
func (p *Pool) Cap() int {
	return len(p.slab)
}
