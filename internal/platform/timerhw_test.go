package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxhub/chre-runtime/internal/chre/chretime"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/timer"
)

func TestSystemTimerHardwareFiresBoundPool(t *testing.T) {
	hw := NewSystemTimerHardware()
	fired := make(chan event.InstanceID, 1)
	pool := timer.New(4, chretime.SystemClock{}, hw, func(instanceID event.InstanceID, cookie any) {
		fired <- instanceID
	})
	hw.Bind(pool)

	_, err := pool.SetTimer(event.InstanceID(7), chretime.FromDuration(10*time.Millisecond), 0, nil)
	require.NoError(t, err)

	select {
	case id := <-fired:
		assert.Equal(t, event.InstanceID(7), id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSystemTimerHardwareDisarmStopsPendingFire(t *testing.T) {
	hw := NewSystemTimerHardware()
	fired := make(chan event.InstanceID, 1)
	pool := timer.New(4, chretime.SystemClock{}, hw, func(instanceID event.InstanceID, cookie any) {
		fired <- instanceID
	})
	hw.Bind(pool)

	id, err := pool.SetTimer(event.InstanceID(1), chretime.FromDuration(50*time.Millisecond), 0, nil)
	require.NoError(t, err)
	assert.True(t, pool.CancelTimer(event.InstanceID(1), id))

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}
