package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
	"github.com/ctxhub/chre-runtime/internal/chre/queue"
)

func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	return New(Config{
		Pool:        event.NewPool(32),
		Inbox:       queue.New(32),
		MaxNanoapps: 8,
	})
}

// TestScenarioS1BroadcastDeliveryAndFree starts nanoapp A subscribed to
// event type 100, posts a system broadcast of that type, and expects the
// handler to run exactly once with sender=system and the free callback to
// run exactly once.
func TestScenarioS1BroadcastDeliveryAndFree(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	var gotSender event.InstanceID
	var gotType event.Type
	handlerCalls := 0

	instanceID, err := l.StartNanoapp(0xA, false, 4, nil, func(sender event.InstanceID, t event.Type, _ any) {
		handlerCalls++
		gotSender = sender
		gotType = t
	}, nil)
	require.NoError(t, err)

	n := l.FindByInstanceID(instanceID)
	require.NotNil(t, n)
	n.Subscribe(100)

	freeCalls := 0
	err = l.PostEvent(100, nil, func(event.Type, any) { freeCalls++ }, event.SystemInstanceID, event.Broadcast)
	require.NoError(t, err)

	require.True(t, l.distributeOne())
	l.deliverOnePerNanoapp()

	assert.Equal(t, 1, handlerCalls)
	assert.Equal(t, event.SystemInstanceID, gotSender)
	assert.Equal(t, event.Type(100), gotType)
	assert.Equal(t, 1, freeCalls)
}

func TestBroadcastWithNoSubscribersFreesSynchronously(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	freeCalls := 0
	require.NoError(t, l.PostEvent(999, nil, func(event.Type, any) { freeCalls++ }, event.SystemInstanceID, event.Broadcast))

	require.True(t, l.distributeOne())
	assert.Equal(t, 1, freeCalls)
}

func TestStartNanoappRejectsDuplicateAppID(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	_, err := l.StartNanoapp(0xA, false, 4, nil, nil, nil)
	require.NoError(t, err)

	_, err = l.StartNanoapp(0xA, false, 4, nil, nil, nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestStartNanoappRemovesOnFalseStart(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	_, err := l.StartNanoapp(0xA, false, 4, func(event.InstanceID) bool { return false }, nil, nil)
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Nil(t, l.FindByAppID(0xA))
}

func TestUnloadSystemNanoappRequiresOverride(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	instanceID, err := l.StartNanoapp(0xA, true, 4, nil, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, l.UnloadNanoapp(instanceID, false), ErrSystemNanoapp)
	assert.NoError(t, l.UnloadNanoapp(instanceID, true))
}

// TestScenarioS5UnloadDrainsSelfTargetedEvents unloads a nanoapp with
// pending self-targeted events and expects end() to run and the nanoapp
// to be destroyed.
func TestScenarioS5UnloadDrainsSelfTargetedEvents(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	endCalled := 0
	handled := 0
	instanceID, err := l.StartNanoapp(0xC, false, 8, nil, func(event.InstanceID, event.Type, any) {
		handled++
	}, func(event.InstanceID) { endCalled++ })
	require.NoError(t, err)

	n := l.FindByInstanceID(instanceID)
	require.NoError(t, n.PostEvent(&event.Event{Type: 1, TargetInstanceID: instanceID}))
	require.NoError(t, n.PostEvent(&event.Event{Type: 2, TargetInstanceID: instanceID}))
	require.NoError(t, n.PostEvent(&event.Event{Type: 3, TargetInstanceID: instanceID}))

	require.NoError(t, l.UnloadNanoapp(instanceID, false))

	assert.Equal(t, 3, handled)
	assert.Equal(t, 1, endCalled)
	assert.Nil(t, l.FindByInstanceID(instanceID))

	err = l.PostEvent(1, nil, nil, event.SystemInstanceID, instanceID)
	require.NoError(t, err) // loop itself is still running; the target just no longer exists
}

// TestPostEventRejectsPostFromStoppingNanoapp covers spec §4.4 phase 3: a
// handler running as part of a nanoapp's own unload drain must not be able
// to post new events into the loop, even though the loop's overall state
// is still Running throughout UnloadNanoapp.
func TestPostEventRejectsPostFromStoppingNanoapp(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	var postErr error
	instanceID, err := l.StartNanoapp(0xD, false, 8, nil, func(event.InstanceID, event.Type, any) {
		postErr = l.PostEvent(1, nil, nil, event.SystemInstanceID, event.Broadcast)
	}, nil)
	require.NoError(t, err)

	n := l.FindByInstanceID(instanceID)
	require.NoError(t, n.PostEvent(&event.Event{Type: 1, TargetInstanceID: instanceID}))

	require.NoError(t, l.UnloadNanoapp(instanceID, false))

	require.ErrorIs(t, postErr, ErrStateConflict)
}

// TestScenarioS6StopUnblocksPendingPop mirrors a producer blocked on pop
// while Stop is invoked concurrently.
func TestScenarioS6StopUnblocksPendingPop(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	runDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run()
		close(runDone)
	}()

	l.Stop()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	wg.Wait()
	assert.Equal(t, Stopped, l.State())
}

func TestShutdownFreesAllQueuedEvents(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running

	freeCalls := 0
	require.NoError(t, l.PostEvent(1, nil, func(event.Type, any) { freeCalls++ }, event.SystemInstanceID, event.Broadcast))
	require.NoError(t, l.PostEvent(2, nil, func(event.Type, any) { freeCalls++ }, event.SystemInstanceID, event.Broadcast))

	l.Stop()
	l.shutdown()

	assert.Equal(t, 2, freeCalls)
}

func TestForEachNanoappIteratesAllLoaded(t *testing.T) {
	l := newTestLoop(t)
	l.state = Running
	_, _ = l.StartNanoapp(0xA, false, 4, nil, nil, nil)
	_, _ = l.StartNanoapp(0xB, false, 4, nil, nil, nil)

	var seen []nanoapp.AppID
	l.ForEachNanoapp(func(n *nanoapp.Nanoapp) { seen = append(seen, n.AppID) })
	assert.ElementsMatch(t, []nanoapp.AppID{0xA, 0xB}, seen)
}
