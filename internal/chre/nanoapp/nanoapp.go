// Package nanoapp models a loaded nanoapp: its identity, event-type
// subscriptions, and per-nanoapp inbox.
package nanoapp

import (
	"errors"

	"github.com/ctxhub/chre-runtime/internal/chre/container"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
)

// AppID is the vendor-assigned 64-bit logical identity of a nanoapp. It may
// repeat across process restarts but must be unique among currently
// loaded nanoapps.
type AppID uint64

// Handler is the platform ABI hook invoked once per delivered event.
type Handler func(sender event.InstanceID, t event.Type, payload any)

// ErrInboxFull is returned by PostEvent when the nanoapp's inbox is at
// capacity; the loop treats this as a drop, never a silent success.
var ErrInboxFull = errors.New("nanoapp: inbox full")

// Nanoapp is exclusively owned by the event loop for its entire lifetime.
// AppID and InstanceID are set exactly once, at construction.
type Nanoapp struct {
	AppID      AppID
	InstanceID event.InstanceID
	IsSystem   bool

	Start       func(instanceID event.InstanceID) bool
	HandleEvent Handler
	End         func(instanceID event.InstanceID)

	subscribed map[event.Type]struct{}
	inbox      *container.RingQueue[*event.Event]
	stopping   bool
}

// New constructs a Nanoapp with a bounded inbox. start/handleEvent/end are
// the platform ABI hooks this nanoapp exposes; any may be nil, in which
// case the hook is a no-op. start/end receive the instance id the loop
// just assigned, since it is not known until construction.
func New(appID AppID, instanceID event.InstanceID, isSystem bool, inboxCapacity int, start func(event.InstanceID) bool, handle Handler, end func(event.InstanceID)) *Nanoapp {
	return &Nanoapp{
		AppID:       appID,
		InstanceID:  instanceID,
		IsSystem:    isSystem,
		Start:       start,
		HandleEvent: handle,
		End:         end,
		subscribed:  make(map[event.Type]struct{}),
		inbox:       container.NewRingQueue[*event.Event](inboxCapacity),
	}
}

// Subscribe registers interest in an event type for broadcast delivery.
func (n *Nanoapp) Subscribe(t event.Type) {
	n.subscribed[t] = struct{}{}
}

// Unsubscribe removes interest in an event type.
func (n *Nanoapp) Unsubscribe(t event.Type) {
	delete(n.subscribed, t)
}

// IsRegisteredFor reports whether this nanoapp subscribes to t.
func (n *Nanoapp) IsRegisteredFor(t event.Type) bool {
	_, ok := n.subscribed[t]
	return ok
}

// PostEvent appends e to the inbox and increments its reference count.
// Only the loop thread calls this, during distribution.
func (n *Nanoapp) PostEvent(e *event.Event) error {
	if err := n.inbox.Push(e); err != nil {
		return ErrInboxFull
	}
	e.IncrementRefCount()
	return nil
}

// HasPendingEvent reports whether the inbox holds at least one event.
func (n *Nanoapp) HasPendingEvent() bool {
	return n.inbox.Len() > 0
}

// ProcessNextEvent pops the head of the inbox, invokes HandleEvent with
// current_app semantics left to the caller (the event loop sets its own
// scoped binding before calling this), then decrements the event's
// reference count. Returns the event that was processed, or an error if
// the inbox was empty.
func (n *Nanoapp) ProcessNextEvent() (*event.Event, error) {
	e, err := n.inbox.Pop()
	if err != nil {
		return nil, err
	}
	if n.HandleEvent != nil {
		n.HandleEvent(e.SenderInstanceID, e.Type, e.Payload)
	}
	e.DecrementRefCount()
	return e, nil
}

// SetStopping marks this nanoapp as being unloaded. Once set, the loop's
// currentNanoappIsStopping check refuses new posts attributed to it.
func (n *Nanoapp) SetStopping(stopping bool) {
	n.stopping = stopping
}

// Stopping reports whether this nanoapp is in the unload sequence.
func (n *Nanoapp) Stopping() bool {
	return n.stopping
}

// DrainInbox pops every pending event and returns them in inbox order. It
// does not decrement their reference counts or run free callbacks; that is
// left to the caller.
func (n *Nanoapp) DrainInbox() []*event.Event {
	var drained []*event.Event
	for n.inbox.Len() > 0 {
		e, err := n.inbox.Pop()
		if err != nil {
			break
		}
		drained = append(drained, e)
	}
	return drained
}
