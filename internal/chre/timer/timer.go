// Package timer implements the runtime's timer pool: a sorted set of
// timers arbitrating a single simulated hardware one-shot timer.
package timer

import (
	"errors"
	"sync"

	"github.com/ctxhub/chre-runtime/internal/chre/chretime"
	"github.com/ctxhub/chre-runtime/internal/chre/container"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
)

// ErrNotFound is returned by CancelTimer when no timer with the given id
// and owning instance id exists.
var ErrNotFound = errors.New("timer: not found")

// ErrPoolFull is returned by SetTimer when the pool is at capacity.
var ErrPoolFull = errors.New("timer: pool full")

// ID identifies a single armed timer, unique across all currently active
// timers.
type ID uint32

// request is the pool's internal record; TimerRequest in spec §3.
type request struct {
	id         ID
	instanceID event.InstanceID
	expiration chretime.Nanos
	interval   chretime.Nanos
	cookie     any
}

// Hardware abstracts the single one-shot timer the pool reprograms on
// every head change. A real platform HAL implements this against an
// interrupt-driven peripheral; tests use a fake that just records calls.
type Hardware interface {
	// Arm schedules a callback at the given absolute expiration, replacing
	// any previously armed deadline.
	Arm(expiration chretime.Nanos)
	// Disarm cancels any pending callback.
	Disarm()
}

// FireCallback is invoked on hardware expiry with the fired timer's cookie
// and owning instance id. The pool does minimal work on this path: actual
// nanoapp dispatch happens later via the normal loop delivery of the event
// this callback posts.
type FireCallback func(instanceID event.InstanceID, cookie any)

// Pool holds the sorted timer list and drives a single Hardware one-shot.
// Safe for concurrent SetTimer/CancelTimer calls from producer threads;
// the hardware expiry callback is expected to arrive from an interrupt or
// driver thread and is serialized under the same lock.
type Pool struct {
	mu      sync.Mutex
	clock   chretime.Clock
	hw      Hardware
	onFire  FireCallback
	timers  *container.SortedList[request]
	nextID  ID
}

// New constructs a Pool with room for exactly capacity concurrently armed
// timers. onFire is invoked (under the pool's lock) whenever a timer
// expires; callers should keep it fast and non-blocking, matching the
// "minimal work on this path" contract.
func New(capacity int, clock chretime.Clock, hw Hardware, onFire FireCallback) *Pool {
	return &Pool{
		clock:  clock,
		hw:     hw,
		onFire: onFire,
		timers: container.NewSortedList[request](capacity, func(r request) uint64 { return uint64(r.expiration) }),
	}
}

// SetTimer arms a new timer for instanceID, firing duration from now, then
// (if interval is non-zero) repeating every interval. Returns the new
// timer's id.
func (p *Pool) SetTimer(instanceID event.InstanceID, duration, interval chretime.Nanos, cookie any) (ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	expiration := p.clock.Now() + duration

	r := request{id: id, instanceID: instanceID, expiration: expiration, interval: interval, cookie: cookie}
	if err := p.timers.Insert(r); err != nil {
		return 0, ErrPoolFull
	}
	if newHead, ok := p.timers.Front(); ok && newHead.id == r.id {
		p.hw.Arm(newHead.expiration)
	}
	return id, nil
}

// CancelTimer removes the timer with the given id, owned by instanceID.
// Returns false if no such timer exists or it is owned by a different
// nanoapp.
func (p *Pool) CancelTimer(instanceID event.InstanceID, id ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.timers.Find(func(r request) bool { return r.id == id && r.instanceID == instanceID })
	if idx < 0 {
		return false
	}
	wasHead := idx == 0
	_ = p.timers.RemoveAt(idx)
	if wasHead {
		p.reprogram()
	}
	return true
}

// CancelAllForNanoapp removes every timer owned by instanceID, used at
// nanoapp unload.
func (p *Pool) CancelAllForNanoapp(instanceID event.InstanceID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for {
		idx := p.timers.Find(func(r request) bool { return r.instanceID == instanceID })
		if idx < 0 {
			break
		}
		_ = p.timers.RemoveAt(idx)
		removed++
	}
	if removed > 0 {
		p.reprogram()
	}
	return removed
}

// OnHardwareExpiry is the hardware interrupt/driver-thread entry point.
// It pops the head timer, invokes onFire with its cookie and owner, and
// reinserts it (with expiration advanced by interval) if periodic, then
// reprograms the hardware to the new head.
func (p *Pool) OnHardwareExpiry() {
	p.mu.Lock()
	defer p.mu.Unlock()

	head, ok := p.timers.Front()
	if !ok {
		return
	}
	_ = p.timers.RemoveAt(0)

	if p.onFire != nil {
		p.onFire(head.instanceID, head.cookie)
	}

	if head.interval != 0 {
		head.expiration += head.interval
		_ = p.timers.Insert(head)
	}

	p.reprogram()
}

// Len reports the number of currently armed timers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timers.Len()
}

func (p *Pool) reprogram() {
	if head, ok := p.timers.Front(); ok {
		p.hw.Arm(head.expiration)
	} else {
		p.hw.Disarm()
	}
}
