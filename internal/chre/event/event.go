// Package event defines the runtime's typed, reference-counted Event and
// the fixed-capacity pool it is allocated from.
package event

import "math"

// Type is the 16-bit event type tag. Reserved ranges partition system
// events, sensor-sample events, and user-defined events; this package does
// not interpret the value.
type Type uint16

// InstanceID identifies a loaded nanoapp. Zero is the reserved system
// origin; Broadcast is the reserved fan-out target.
type InstanceID uint32

// SystemInstanceID is the reserved sender id for runtime-originated events.
const SystemInstanceID InstanceID = 0

// Broadcast is the reserved target id meaning "every subscribed nanoapp".
const Broadcast InstanceID = math.MaxUint32

// TypeTimerFired is the reserved system event the timer pool posts when an
// armed timer expires (spec §4.6): payload is the fired timer's cookie,
// target is the owning nanoapp's instance id.
const TypeTimerFired Type = 0x0001

// FreeCallback is invoked exactly once, when an Event's reference count
// reaches zero, with the event's type and payload. It may be nil for
// stack-borrowed or system-owned payloads that need no cleanup.
type FreeCallback func(t Type, payload any)

// Event is immutable after construction except for its reference count,
// which is mutated only by the event loop thread — never atomically, by
// contract, not by synchronization. Constructing an Event directly (rather
// than through a Pool) is only appropriate in tests.
type Event struct {
	Type             Type
	Payload          any
	Free             FreeCallback
	SenderInstanceID InstanceID
	TargetInstanceID InstanceID
	refCount         int
	slot             int // pool slab index; -1 for events not owned by a Pool
}

// RefCount reports the current reference count. Only meaningful when
// called from the loop thread.
func (e *Event) RefCount() int {
	return e.refCount
}

// IncrementRefCount bumps the reference count. Not safe for concurrent
// callers; by contract only the loop thread calls this.
func (e *Event) IncrementRefCount() {
	e.refCount++
}

// DecrementRefCount decrements the reference count and, if it reaches
// zero, invokes Free exactly once and returns true. Decrementing below
// zero indicates a double-free bug in the caller and panics rather than
// silently corrupting the count.
func (e *Event) DecrementRefCount() (freed bool) {
	if e.refCount <= 0 {
		panic("event: decrement of non-positive refcount")
	}
	e.refCount--
	if e.refCount == 0 {
		if e.Free != nil {
			e.Free(e.Type, e.Payload)
		}
		return true
	}
	return false
}

// IsUnreferenced reports whether the event has no remaining references.
func (e *Event) IsUnreferenced() bool {
	return e.refCount == 0
}
