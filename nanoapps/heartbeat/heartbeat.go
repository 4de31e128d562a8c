// Package heartbeat is a minimal system nanoapp that arms a periodic
// timer and logs on every fire, used to exercise the timer pool and
// event loop end-to-end in tests and the demo binary.
package heartbeat

import (
	"go.uber.org/zap"

	"github.com/ctxhub/chre-runtime/internal/chre/chretime"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// EventTypeTick is the event type posted when the heartbeat timer fires,
// the reserved system timer-fired event every timer owner receives.
const EventTypeTick = event.TypeTimerFired

// TimerSetter is the subset of timer.Pool a nanoapp depends on through the
// syscall-style runtime-services interface (spec §6 "Nanoapp ABI"). It
// returns the platform timer id as a plain uint32 so this package does not
// need to import internal/chre/timer; callers adapt timer.Pool.SetTimer's
// typed timer.ID return with a trivial conversion.
type TimerSetter interface {
	SetTimer(instanceID event.InstanceID, duration, interval chretime.Nanos, cookie any) (uint32, error)
}

// App implements the start/handleEvent/end ABI for the heartbeat nanoapp.
type App struct {
	log      *logging.Logger
	timers   TimerSetter
	interval chretime.Nanos
	ticks    int
}

// New constructs a heartbeat App that arms a periodic timer at the given
// interval once started.
func New(timers TimerSetter, interval chretime.Nanos, log *logging.Logger) *App {
	if log == nil {
		log = logging.NewDefault()
	}
	return &App{log: log, timers: timers, interval: interval}
}

// Start arms the periodic timer. Returns false (rejecting load) if that
// fails, matching the nanoapp ABI's start() -> bool contract.
func (a *App) Start(instanceID event.InstanceID) bool {
	_, err := a.timers.SetTimer(instanceID, a.interval, a.interval, nil)
	if err != nil {
		a.log.Error("heartbeat: failed to arm timer", zap.Error(err))
		return false
	}
	return true
}

// HandleEvent counts ticks and logs every one.
func (a *App) HandleEvent(sender event.InstanceID, t event.Type, payload any) {
	if t != EventTypeTick {
		return
	}
	a.ticks++
	a.log.Debug("heartbeat: tick", zap.Int("count", a.ticks))
}

// End reports the final tick count.
func (a *App) End(instanceID event.InstanceID) {
	a.log.Info("heartbeat: stopped", zap.Int("total_ticks", a.ticks))
}

// Ticks reports how many ticks have been handled so far.
func (a *App) Ticks() int {
	return a.ticks
}
