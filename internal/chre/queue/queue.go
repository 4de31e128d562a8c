// Package queue implements the runtime's multi-producer, single-consumer
// inbound event queue: the loop thread's one blocking point.
package queue

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
)

// ErrQueueFull is returned by Push when the queue is at capacity. Dropping
// is never silent: the caller always observes this error.
var ErrQueueFull = errors.New("queue: inbound queue full")

// ErrStopped is returned by Push once the queue has been stopped.
var ErrStopped = errors.New("queue: stopped")

// ErrRateLimited is returned by Push when an attached rate.Limiter denies
// the send, used to shed load from a misbehaving or overly chatty producer
// (notably the host adapter) before it can fill the queue.
var ErrRateLimited = errors.New("queue: producer rate-limited")

// InboundQueue is a bounded, blocking MPSC queue of *event.Event. Producers
// (host receive thread, timer interrupt, sensor indication thread,
// in-loop postEvent) call Push; the loop thread calls Pop exactly once per
// iteration.
type InboundQueue struct {
	items   chan *event.Event
	stopCh  chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

// New constructs an InboundQueue with the given fixed capacity.
func New(capacity int) *InboundQueue {
	return &InboundQueue{
		items:  make(chan *event.Event, capacity),
		stopCh: make(chan struct{}),
	}
}

// WithLimiter attaches a token-bucket limiter; Push will reject producers
// that exceed it with ErrRateLimited before even checking capacity. Passing
// nil clears any existing limiter.
func (q *InboundQueue) WithLimiter(l *rate.Limiter) *InboundQueue {
	q.limiter = l
	return q
}

// Push enqueues e. Non-blocking: returns ErrQueueFull if the queue is at
// capacity, ErrStopped if the queue has been stopped, or ErrRateLimited if
// an attached limiter denies the send.
func (q *InboundQueue) Push(e *event.Event) error {
	select {
	case <-q.stopCh:
		return ErrStopped
	default:
	}
	if q.limiter != nil && !q.limiter.Allow() {
		return ErrRateLimited
	}
	select {
	case q.items <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop blocks until an element is available or the queue is stopped with no
// elements left to drain. Buffered elements are still returned after Stop
// is called, so the loop's shutdown sequence can drain the queue with
// repeated Pop calls instead of a separate API.
func (q *InboundQueue) Pop() (*event.Event, bool) {
	select {
	case e := <-q.items:
		return e, true
	case <-q.stopCh:
		select {
		case e := <-q.items:
			return e, true
		default:
			return nil, false
		}
	}
}

// Stop closes the queue to new producers and unblocks any pending Pop.
// Idempotent.
func (q *InboundQueue) Stop() {
	q.once.Do(func() { close(q.stopCh) })
}

// Len reports the approximate number of buffered, undelivered events.
func (q *InboundQueue) Len() int {
	return len(q.items)
}

// Cap reports the queue's fixed capacity.
func (q *InboundQueue) Cap() int {
	return cap(q.items)
}
