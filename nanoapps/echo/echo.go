// Package echo is a minimal nanoapp that replies to every directly
// addressed request with the same payload, exercising the loop's
// non-broadcast delivery and reentrant posting paths end-to-end.
package echo

import (
	"go.uber.org/zap"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// EventTypeRequest is the event type a caller posts, targeted directly at
// this nanoapp's instance id, to request an echo.
const EventTypeRequest event.Type = 10

// EventTypeReply is the event type posted back to the original sender.
const EventTypeReply event.Type = 11

// Poster is the subset of the event loop a nanoapp needs to post events
// from inside its own handler (spec §9 "Reentrant posting from handlers").
type Poster interface {
	PostEvent(t event.Type, payload any, free event.FreeCallback, sender, target event.InstanceID) error
}

// App implements the start/handleEvent/end ABI for the echo nanoapp.
type App struct {
	log        *logging.Logger
	loop       Poster
	instanceID event.InstanceID
	echoed     int
}

// New constructs an echo App posting replies back through loop.
func New(loop Poster, log *logging.Logger) *App {
	if log == nil {
		log = logging.NewDefault()
	}
	return &App{log: log, loop: loop}
}

// Start records this nanoapp's own instance id, needed to post replies
// with the correct sender.
func (a *App) Start(instanceID event.InstanceID) bool {
	a.instanceID = instanceID
	return true
}

// HandleEvent posts payload straight back to sender, unchanged, for every
// EventTypeRequest; anything else is ignored.
func (a *App) HandleEvent(sender event.InstanceID, t event.Type, payload any) {
	if t != EventTypeRequest {
		return
	}
	a.echoed++
	if err := a.loop.PostEvent(EventTypeReply, payload, nil, a.instanceID, sender); err != nil {
		a.log.Warn("echo: failed to post reply", zap.Error(err))
	}
}

// End reports the final echo count.
func (a *App) End(instanceID event.InstanceID) {
	a.log.Info("echo: stopped", zap.Int("echoed", a.echoed))
}

// Echoed reports how many requests have been echoed so far.
func (a *App) Echoed() int {
	return a.echoed
}
