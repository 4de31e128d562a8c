package manager

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ctxhub/chre-runtime/internal/chre/container"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// ErrQueueFull is returned by Configure when the transition queue is
// already at capacity. Supplemented from wifi_request_manager.cc's
// addScanMonitorRequestToQueue: log and reject rather than block or panic.
var ErrQueueFull = errors.New("manager: scan monitor transition queue full")

// ErrorCode mirrors the platform's async-result error enumeration
// (spec §7); ErrorNone is the only success value.
type ErrorCode int

const ErrorNone ErrorCode = 0

// Platform is the capability's HAL trait: a single in-flight
// configuration request at a time.
type Platform interface {
	Configure(enable bool) error
}

// AsyncResultSink delivers a capability configuration outcome back to the
// requesting nanoapp, the Go analogue of posting an AsyncResult event.
type AsyncResultSink func(instanceID event.InstanceID, success bool, cookie any)

type transitionEntry struct {
	instanceID event.InstanceID
	desired    bool
	cookie     any
}

// RequestManager arbitrates a single shared platform capability
// (exemplified by the wifi scan monitor) on top of an at-most-one
// in-flight transition contract. See spec §4.7.
type RequestManager struct {
	mu       sync.Mutex
	log      *logging.Logger
	platform Platform
	sink     AsyncResultSink

	active map[event.InstanceID]struct{}
	queue  *container.RingQueue[transitionEntry]
}

// NewRequestManager constructs a RequestManager with a transition queue of
// the given fixed capacity.
func NewRequestManager(queueCapacity int, platform Platform, sink AsyncResultSink, log *logging.Logger) *RequestManager {
	if log == nil {
		log = logging.NewDefault()
	}
	return &RequestManager{
		log:      log,
		platform: platform,
		sink:     sink,
		active:   make(map[event.InstanceID]struct{}),
		queue:    container.NewRingQueue[transitionEntry](queueCapacity),
	}
}

// ActiveCount reports the number of nanoapps currently subscribed.
func (r *RequestManager) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// QueueDepth reports the number of pending transitions, for metrics.
func (r *RequestManager) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Configure requests nanoappID's desired membership in the capability's
// active set (true = subscribe, false = unsubscribe).
func (r *RequestManager) Configure(nanoappID event.InstanceID, desired bool, cookie any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queue.Len() > 0 {
		return r.enqueue(transitionEntry{nanoappID, desired, cookie})
	}

	alreadyMember := r.isMember(nanoappID)
	if desired == alreadyMember {
		r.emit(nanoappID, true, cookie)
		return nil
	}

	if r.requiresPlatformCall(desired) {
		entry := transitionEntry{nanoappID, desired, cookie}
		if err := r.enqueue(entry); err != nil {
			return err
		}
		if err := r.platform.Configure(desired); err != nil {
			_, _ = r.queue.Pop()
			return err
		}
		return nil
	}

	r.setMembership(nanoappID, desired)
	r.emit(nanoappID, true, cookie)
	return nil
}

// OnPlatformStateChange is the platform HAL's indication callback. It
// resolves the head of the transition queue, then drains every
// already-satisfied entry that follows, stopping at (and submitting) the
// first entry that itself requires another platform call.
func (r *RequestManager) OnPlatformStateChange(enabled bool, errCode ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head, err := r.queue.Pop()
	if err != nil {
		return
	}
	success := errCode == ErrorNone && enabled == head.desired
	if success {
		r.setMembership(head.instanceID, head.desired)
	}
	r.emit(head.instanceID, success, head.cookie)

	for {
		next, ok := r.queue.Peek()
		if !ok {
			return
		}
		alreadyMember := r.isMember(next.instanceID)
		if next.desired == alreadyMember {
			_, _ = r.queue.Pop()
			r.emit(next.instanceID, true, next.cookie)
			continue
		}
		if r.requiresPlatformCall(next.desired) {
			if err := r.platform.Configure(next.desired); err != nil {
				_, _ = r.queue.Pop()
				r.emit(next.instanceID, false, next.cookie)
				continue
			}
			return // wait for this submission's own callback
		}
		_, _ = r.queue.Pop()
		r.setMembership(next.instanceID, next.desired)
		r.emit(next.instanceID, true, next.cookie)
	}
}

func (r *RequestManager) requiresPlatformCall(desired bool) bool {
	if desired {
		return len(r.active) == 0
	}
	return len(r.active) == 1
}

func (r *RequestManager) isMember(id event.InstanceID) bool {
	_, ok := r.active[id]
	return ok
}

func (r *RequestManager) setMembership(id event.InstanceID, member bool) {
	if member {
		r.active[id] = struct{}{}
	} else {
		delete(r.active, id)
	}
}

func (r *RequestManager) enqueue(e transitionEntry) error {
	if err := r.queue.Push(e); err != nil {
		r.log.Warn("scan monitor transition queue full, rejecting", zap.Uint32("instance_id", uint32(e.instanceID)))
		return ErrQueueFull
	}
	return nil
}

func (r *RequestManager) emit(id event.InstanceID, success bool, cookie any) {
	if r.sink != nil {
		r.sink(id, success, cookie)
	}
}
