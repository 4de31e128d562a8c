package platform

import (
	"sync"
	"time"

	"github.com/ctxhub/chre-runtime/internal/chre/chretime"
	"github.com/ctxhub/chre-runtime/internal/chre/timer"
)

// SystemTimerHardware drives a timer.Pool's single simulated hardware
// timer with a real wall-clock time.Timer, for the demo binary and any
// other caller that needs actual expiry rather than a chretime.FakeClock
// advanced by hand in tests.
type SystemTimerHardware struct {
	mu    sync.Mutex
	timer *time.Timer
	pool  *timer.Pool
}

// NewSystemTimerHardware constructs an unbound SystemTimerHardware. Bind
// must be called with the timer.Pool it drives before any Arm call
// arrives, since the pool cannot be known until after it is constructed
// (it takes this Hardware as a dependency).
func NewSystemTimerHardware() *SystemTimerHardware {
	return &SystemTimerHardware{}
}

// Bind attaches the pool this hardware's expiry fires into.
func (h *SystemTimerHardware) Bind(pool *timer.Pool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pool = pool
}

// Arm schedules OnHardwareExpiry at expiration, replacing any previously
// armed deadline.
func (h *SystemTimerHardware) Arm(expiration chretime.Nanos) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	now := chretime.SystemClock{}.Now()
	var d time.Duration
	if expiration > now {
		d = (expiration - now).Duration()
	}
	h.timer = time.AfterFunc(d, h.fire)
}

// Disarm cancels any pending expiry.
func (h *SystemTimerHardware) Disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *SystemTimerHardware) fire() {
	h.mu.Lock()
	pool := h.pool
	h.mu.Unlock()
	if pool != nil {
		pool.OnHardwareExpiry()
	}
}
