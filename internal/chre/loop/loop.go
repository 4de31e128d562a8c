// Package loop implements the single event loop: distribution, per-nanoapp
// round-robin delivery, nanoapp lifecycle, and orderly shutdown.
package loop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
	"github.com/ctxhub/chre-runtime/internal/chre/queue"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// State is one of the loop's four lifecycle states.
type State int

const (
	Initialising State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Initialising:
		return "initialising"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyExists is returned by StartNanoapp for a duplicate app id.
	ErrAlreadyExists = errors.New("loop: nanoapp with this app id already loaded")
	// ErrStateConflict is returned for operations invalid in the current state.
	ErrStateConflict = errors.New("loop: operation invalid in current loop state")
	// ErrNotFound is returned when an instance id does not match a loaded nanoapp.
	ErrNotFound = errors.New("loop: nanoapp not found")
	// ErrSystemNanoapp is returned by UnloadNanoapp for a protected system
	// nanoapp without allowSystemUnload set.
	ErrSystemNanoapp = errors.New("loop: cannot unload a system nanoapp without explicit override")
	// ErrStartFailed is returned by StartNanoapp when the platform start hook returns false.
	ErrStartFailed = errors.New("loop: nanoapp start hook returned false")
)

// HostFlusher drains a nanoapp's pending outbound host messages as part of
// the three-phase unload sequence (spec §4.4). The host adapter
// implements this.
type HostFlusher interface {
	FlushPending(appID nanoapp.AppID) error
}

// TimerCanceler cancels every timer owned by a nanoapp at unload, so a
// periodic timer never outlives the nanoapp that armed it. timer.Pool
// implements this.
type TimerCanceler interface {
	CancelAllForNanoapp(instanceID event.InstanceID) int
}

// EventLoop is the single, process-scoped event loop. Constructing more
// than one is a caller error (spec's explicit single-loop-only choice);
// LoopManager enforces that at a higher level.
type EventLoop struct {
	log    *logging.Logger
	pool   *event.Pool
	inbox  *queue.InboundQueue
	host   HostFlusher
	timers TimerCanceler

	mu       sync.Mutex // guards nanoapps; acquired only by non-loop-thread readers
	nanoapps []*nanoapp.Nanoapp

	state           State
	currentAppStack []*nanoapp.Nanoapp
	stoppingApp     *nanoapp.Nanoapp
	nextInstanceID  event.InstanceID

	maxNanoapps      int
	onDrop           func(t event.Type)
	onPosted         func(t event.Type)
	onDistributed    func(d time.Duration)
	onDelivered      func(appID nanoapp.AppID, d time.Duration)
	onUnload         func()
	onTimersCanceled func(n int)
	onFreed          func()
}

// Config bundles the EventLoop's fixed-capacity resources and collaborators.
type Config struct {
	Pool        *event.Pool
	Inbox       *queue.InboundQueue
	Host        HostFlusher
	Timers      TimerCanceler
	MaxNanoapps int
	Logger      *logging.Logger
}

// New constructs an EventLoop in the Initialising state.
func New(cfg Config) *EventLoop {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	return &EventLoop{
		log:            log,
		pool:           cfg.Pool,
		inbox:          cfg.Inbox,
		host:           cfg.Host,
		timers:         cfg.Timers,
		maxNanoapps:    cfg.MaxNanoapps,
		nextInstanceID: 1,
		state:          Initialising,
	}
}

// OnDrop registers a callback invoked whenever distribute finds no
// recipient for an event, used to feed the drop counter in
// internal/infrastructure/monitoring without coupling this package to it.
func (l *EventLoop) OnDrop(fn func(t event.Type)) {
	l.onDrop = fn
}

// OnPosted registers a callback invoked whenever PostEvent successfully
// enqueues an event, for a posted-events counter.
func (l *EventLoop) OnPosted(fn func(t event.Type)) {
	l.onPosted = fn
}

// OnDistributed registers a callback invoked after every distribute call
// with the time spent fanning that one event out to subscriber inboxes.
func (l *EventLoop) OnDistributed(fn func(d time.Duration)) {
	l.onDistributed = fn
}

// OnDelivered registers a callback invoked after every handleEvent
// invocation with the owning app id and the time spent inside it.
func (l *EventLoop) OnDelivered(fn func(appID nanoapp.AppID, d time.Duration)) {
	l.onDelivered = fn
}

// OnUnload registers a callback invoked once UnloadNanoapp completes the
// full unload sequence for a nanoapp.
func (l *EventLoop) OnUnload(fn func()) {
	l.onUnload = fn
}

// OnTimersCanceled registers a callback invoked after a nanoapp's timers
// are swept at unload, with the number of timers that were armed.
func (l *EventLoop) OnTimersCanceled(fn func(n int)) {
	l.onTimersCanceled = fn
}

// OnFreed registers a callback invoked whenever an event's refcount reaches
// zero and its slot returns to the pool.
func (l *EventLoop) OnFreed(fn func()) {
	l.onFreed = fn
}

// State reports the loop's current lifecycle state.
func (l *EventLoop) State() State {
	return l.state
}

// currentApp returns the nanoapp whose scoped binding is active, or nil.
// Modeled as a stack (spec §9 "Reentrant posting from handlers") so nested
// calls during message-free callbacks attribute correctly.
func (l *EventLoop) currentApp() *nanoapp.Nanoapp {
	if len(l.currentAppStack) == 0 {
		return nil
	}
	return l.currentAppStack[len(l.currentAppStack)-1]
}

func (l *EventLoop) pushCurrentApp(n *nanoapp.Nanoapp) {
	l.currentAppStack = append(l.currentAppStack, n)
}

func (l *EventLoop) popCurrentApp() {
	if len(l.currentAppStack) > 0 {
		l.currentAppStack = l.currentAppStack[:len(l.currentAppStack)-1]
	}
}

// currentNanoappIsStopping reports true for the nanoapp currently in its
// unload sequence, and also (per the C++ source's supplemented behavior)
// for any post once the loop has left Running — not just the designated
// stopping nanoapp.
func (l *EventLoop) currentNanoappIsStopping() bool {
	if l.state != Running {
		return true
	}
	cur := l.currentApp()
	return cur != nil && l.stoppingApp != nil && cur == l.stoppingApp
}

// PostEvent allocates an Event from the pool and enqueues it on the
// inbound queue. Fails if the loop is not Running, if the posting nanoapp
// is the one currently mid-unload (spec §4.4 phase 3, widened per
// SPEC_FULL.md §C.5), or if the pool/queue are exhausted.
func (l *EventLoop) PostEvent(t event.Type, payload any, free event.FreeCallback, sender, target event.InstanceID) error {
	if l.currentNanoappIsStopping() {
		return ErrStateConflict
	}
	e, err := l.pool.Alloc(t, payload, free, sender, target)
	if err != nil {
		return err
	}
	if err := l.inbox.Push(e); err != nil {
		_ = l.pool.Release(e)
		return err
	}
	if l.onPosted != nil {
		l.onPosted(t)
	}
	return nil
}

// findByInstanceID looks up a loaded nanoapp by instance id. Callers on
// the loop thread may call this lock-free; callers from another thread
// must go through FindByAppID/FindByInstanceID below, which take the lock.
func (l *EventLoop) findByInstanceID(id event.InstanceID) *nanoapp.Nanoapp {
	for _, n := range l.nanoapps {
		if n.InstanceID == id {
			return n
		}
	}
	return nil
}

func (l *EventLoop) findByAppID(id nanoapp.AppID) *nanoapp.Nanoapp {
	for _, n := range l.nanoapps {
		if n.AppID == id {
			return n
		}
	}
	return nil
}

// FindByAppID is the locked, cross-thread-safe lookup (spec §5: "acquired
// only when a non-loop thread needs to iterate it").
func (l *EventLoop) FindByAppID(id nanoapp.AppID) *nanoapp.Nanoapp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findByAppID(id)
}

// FindByInstanceID is the locked, cross-thread-safe lookup.
func (l *EventLoop) FindByInstanceID(id event.InstanceID) *nanoapp.Nanoapp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.findByInstanceID(id)
}

// NanoappCount reports the number of currently loaded nanoapps.
func (l *EventLoop) NanoappCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nanoapps)
}

// QueueDepth reports the number of events currently buffered in the
// inbound queue, awaiting distribution.
func (l *EventLoop) QueueDepth() int {
	return l.inbox.Len()
}

// ForEachNanoapp iterates the loaded nanoapps under the lock, read-only.
// Supplemented from core/event_loop.cc's forEachNanoapp; used by the
// admin surface so it never reaches into loop internals directly.
func (l *EventLoop) ForEachNanoapp(fn func(*nanoapp.Nanoapp)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range l.nanoapps {
		fn(n)
	}
}

// StartNanoapp loads a new nanoapp. Preconditions: no existing loaded
// nanoapp shares appID. Assigns a fresh instance id, inserts into the
// nanoapps list under the lock, then calls the platform start hook with
// current_app set. If start returns false, the nanoapp is removed and any
// events it posted for its own (now-discarded) instance id are flushed
// before destruction, matching the unload path (spec §9 open question).
func (l *EventLoop) StartNanoapp(appID nanoapp.AppID, isSystem bool, inboxCapacity int, start func(event.InstanceID) bool, handle nanoapp.Handler, end func(event.InstanceID)) (event.InstanceID, error) {
	if l.state != Running && l.state != Initialising {
		return 0, ErrStateConflict
	}

	l.mu.Lock()
	if l.findByAppID(appID) != nil {
		l.mu.Unlock()
		return 0, ErrAlreadyExists
	}
	if l.maxNanoapps > 0 && len(l.nanoapps) >= l.maxNanoapps {
		l.mu.Unlock()
		return 0, fmt.Errorf("loop: at nanoapp capacity (%d)", l.maxNanoapps)
	}
	instanceID := l.nextInstanceID
	l.nextInstanceID++
	n := nanoapp.New(appID, instanceID, isSystem, inboxCapacity, start, handle, end)
	l.nanoapps = append(l.nanoapps, n)
	l.mu.Unlock()

	l.pushCurrentApp(n)
	ok := true
	if n.Start != nil {
		ok = n.Start(instanceID)
	}
	l.popCurrentApp()

	if !ok {
		l.flushEventsFor(instanceID)
		l.removeNanoapp(n)
		return 0, ErrStartFailed
	}
	return instanceID, nil
}

// UnloadNanoapp runs the three-phase unload sequence (spec §4.4):
// flush pending outbound host messages, distribute everything currently
// queued so free callbacks the host adapter just enqueued run now, then
// mark the nanoapp stopping, drain its inbox, call end, and destroy it.
func (l *EventLoop) UnloadNanoapp(instanceID event.InstanceID, allowSystemUnload bool) error {
	l.mu.Lock()
	n := l.findByInstanceID(instanceID)
	l.mu.Unlock()
	if n == nil {
		return ErrNotFound
	}
	if n.IsSystem && !allowSystemUnload {
		return ErrSystemNanoapp
	}

	if l.host != nil {
		if err := l.host.FlushPending(n.AppID); err != nil {
			l.log.Warn("unload: failed to flush pending host messages", zap.Uint64("app_id", uint64(n.AppID)), zap.Error(err))
		}
	}

	for l.inbox.Len() > 0 {
		if !l.distributeOne() {
			break
		}
	}

	l.stoppingApp = n
	n.SetStopping(true)

	for n.HasPendingEvent() {
		l.pushCurrentApp(n)
		e, err := n.ProcessNextEvent()
		l.popCurrentApp()
		if err == nil && e.IsUnreferenced() {
			_ = l.pool.Release(e)
			if l.onFreed != nil {
				l.onFreed()
			}
		}
	}

	l.pushCurrentApp(n)
	if n.End != nil {
		n.End(instanceID)
	}
	l.popCurrentApp()

	if l.timers != nil {
		n := l.timers.CancelAllForNanoapp(instanceID)
		if l.onTimersCanceled != nil {
			l.onTimersCanceled(n)
		}
	}

	l.stoppingApp = nil
	l.removeNanoapp(n)
	if l.onUnload != nil {
		l.onUnload()
	}
	return nil
}

func (l *EventLoop) removeNanoapp(n *nanoapp.Nanoapp) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cand := range l.nanoapps {
		if cand == n {
			l.nanoapps = append(l.nanoapps[:i], l.nanoapps[i+1:]...)
			return
		}
	}
}

// flushEventsFor drains and frees every event currently enqueued whose
// sender or target is instanceID, used when a nanoapp is discarded before
// it could legitimately post anything durable.
func (l *EventLoop) flushEventsFor(instanceID event.InstanceID) {
	// Events for a just-discarded instance id can only be sitting in the
	// inbound queue (never yet distributed to any inbox), so draining and
	// re-pushing everything else is sufficient and bounded by queue depth.
	var kept []*event.Event
	for depth := l.inbox.Len(); depth > 0; depth-- {
		e, ok := l.inbox.Pop()
		if !ok {
			break
		}
		if e.SenderInstanceID == instanceID || e.TargetInstanceID == instanceID {
			l.free(e)
		} else {
			kept = append(kept, e)
		}
	}
	for _, e := range kept {
		_ = l.inbox.Push(e)
	}
}

// Run executes the main loop until Stop is called. Intended to run on a
// single dedicated goroutine; blocks the caller until shutdown completes.
func (l *EventLoop) Run() {
	l.state = Running
	havePending := false
	for l.state == Running {
		if !havePending || l.inbox.Len() > 0 {
			if !l.distributeOne() {
				break // sentinel observed, queue stopped and drained
			}
		}
		havePending = l.deliverOnePerNanoapp()
	}
	l.shutdown()
}

// distributeOne pops exactly one event from the inbound queue and fans it
// out to the inboxes of subscribed or directly addressed nanoapps. Returns
// false once the queue has been stopped and fully drained — Stop's closed
// stopCh is this loop's sentinel: it unblocks a pending Pop the same way
// posting a sentinel event would, without needing a fake event to flow
// through distribution.
func (l *EventLoop) distributeOne() bool {
	e, ok := l.inbox.Pop()
	if !ok {
		return false
	}
	l.distribute(e)
	return true
}

func (l *EventLoop) distribute(e *event.Event) {
	start := time.Now()
	defer func() {
		if l.onDistributed != nil {
			l.onDistributed(time.Since(start))
		}
	}()

	l.mu.Lock()
	nanoapps := make([]*nanoapp.Nanoapp, len(l.nanoapps))
	copy(nanoapps, l.nanoapps)
	l.mu.Unlock()

	delivered := 0
	if e.TargetInstanceID == event.Broadcast {
		for _, n := range nanoapps {
			if n.IsRegisteredFor(e.Type) {
				if err := n.PostEvent(e); err != nil {
					l.log.Warn("distribute: nanoapp inbox full, dropping", zap.Uint32("instance_id", uint32(n.InstanceID)), zap.Uint16("type", uint16(e.Type)))
					continue
				}
				delivered++
			}
		}
	} else {
		for _, n := range nanoapps {
			if n.InstanceID == e.TargetInstanceID {
				if err := n.PostEvent(e); err == nil {
					delivered++
				} else {
					l.log.Warn("distribute: nanoapp inbox full, dropping", zap.Uint32("instance_id", uint32(n.InstanceID)), zap.Uint16("type", uint16(e.Type)))
				}
				break
			}
		}
	}

	if delivered == 0 {
		if e.SenderInstanceID != event.SystemInstanceID {
			l.log.Warn("distribute: no recipient for event",
				zap.Uint16("type", uint16(e.Type)),
				zap.Uint32("sender", uint32(e.SenderInstanceID)),
				zap.Uint32("target", uint32(e.TargetInstanceID)))
		}
		if l.onDrop != nil {
			l.onDrop(e.Type)
		}
		l.free(e)
	}
}

// free invokes freeEvent and reports it to onFreed, used at every call site
// that retires an event's slot outside the normal refcount-reaches-zero
// path through deliverOnePerNanoapp.
func (l *EventLoop) free(e *event.Event) {
	freeEvent(l.pool, e)
	if l.onFreed != nil {
		l.onFreed()
	}
}

// deliverOnePerNanoapp delivers exactly one event to each nanoapp that has
// a pending one, in stable (insertion) order, and reports whether any
// nanoapp still has pending events afterward.
func (l *EventLoop) deliverOnePerNanoapp() bool {
	l.mu.Lock()
	nanoapps := make([]*nanoapp.Nanoapp, len(l.nanoapps))
	copy(nanoapps, l.nanoapps)
	l.mu.Unlock()

	anyPending := false
	for _, n := range nanoapps {
		if !n.HasPendingEvent() {
			continue
		}
		l.pushCurrentApp(n)
		start := time.Now()
		e, err := n.ProcessNextEvent()
		if l.onDelivered != nil {
			l.onDelivered(n.AppID, time.Since(start))
		}
		l.popCurrentApp()
		if err == nil && e.IsUnreferenced() {
			_ = l.pool.Release(e)
			if l.onFreed != nil {
				l.onFreed()
			}
		}
		if n.HasPendingEvent() {
			anyPending = true
		}
	}
	return anyPending
}

// Stop requests an orderly shutdown: running := false, sentinel posted.
// Idempotent. Subsequent PostEvent calls fail.
func (l *EventLoop) Stop() {
	if l.state == Stopping || l.state == Stopped {
		return
	}
	l.state = Stopping
	l.inbox.Stop()
}

func (l *EventLoop) shutdown() {
	l.state = Stopping

	for {
		if !l.deliverOnePerNanoapp() {
			break
		}
	}

	for {
		e, ok := l.inbox.Pop()
		if !ok {
			break
		}
		l.free(e)
	}

	l.mu.Lock()
	remaining := make([]*nanoapp.Nanoapp, len(l.nanoapps))
	copy(remaining, l.nanoapps)
	l.mu.Unlock()

	for i := len(remaining) - 1; i >= 0; i-- {
		n := remaining[i]
		l.pushCurrentApp(n)
		if n.End != nil {
			n.End(n.InstanceID)
		}
		l.popCurrentApp()
		if l.timers != nil {
			cnt := l.timers.CancelAllForNanoapp(n.InstanceID)
			if l.onTimersCanceled != nil {
				l.onTimersCanceled(cnt)
			}
		}
		l.removeNanoapp(n)
	}

	l.state = Stopped
}

// InvokeMessageFreeFunction runs a message's free callback with
// current_app set to the sending nanoapp, looked up by app id (not
// instance id, since the nanoapp may have been unloaded and reloaded with
// a new instance id by the time the host finishes transmitting).
// Supplemented from core/event_loop.cc.
func (l *EventLoop) InvokeMessageFreeFunction(appID nanoapp.AppID, cb event.FreeCallback, t event.Type, payload any) {
	sender := l.FindByAppID(appID)
	if sender != nil {
		l.pushCurrentApp(sender)
	}
	if cb != nil {
		cb(t, payload)
	}
	if sender != nil {
		l.popCurrentApp()
	}
}

// freeEvent invokes an event's free callback directly (for an event whose
// refcount never left zero, e.g. one with no recipient) and returns its
// slot to the pool. Events whose refcount reached zero via DecrementRefCount
// already had their callback invoked and should be released, not freed
// again here.
func freeEvent(pool *event.Pool, e *event.Event) {
	if e.Free != nil {
		e.Free(e.Type, e.Payload)
		e.Free = nil
	}
	_ = pool.Release(e)
}
