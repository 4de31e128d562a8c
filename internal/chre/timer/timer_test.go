package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxhub/chre-runtime/internal/chre/chretime"
	"github.com/ctxhub/chre-runtime/internal/chre/event"
)

type fakeHardware struct {
	armed    []chretime.Nanos
	disarmed int
}

func (h *fakeHardware) Arm(exp chretime.Nanos) { h.armed = append(h.armed, exp) }
func (h *fakeHardware) Disarm()                { h.disarmed++ }

func TestScenarioS3FireSequence(t *testing.T) {
	clock := chretime.NewFakeClock(0)
	hw := &fakeHardware{}
	var fired []event.InstanceID
	p := New(8, clock, hw, func(instanceID event.InstanceID, cookie any) {
		fired = append(fired, instanceID)
	})

	_, err := p.SetTimer(event.InstanceID(0xA), 50, 0, nil) // A
	require.NoError(t, err)
	_, err = p.SetTimer(event.InstanceID(0xB), 20, 0, nil) // B
	require.NoError(t, err)
	_, err = p.SetTimer(event.InstanceID(0xC), 30, 10, nil) // C periodic
	require.NoError(t, err)

	// Hardware always ends up armed at the earliest expiration (20, owned
	// by B) regardless of insertion order.
	assert.Equal(t, chretime.Nanos(20), hw.armed[len(hw.armed)-1])

	clock.Set(20)
	p.OnHardwareExpiry() // B fires
	clock.Set(30)
	p.OnHardwareExpiry() // C fires, reinserts at 40
	clock.Set(40)
	p.OnHardwareExpiry() // C fires again, reinserts at 50
	clock.Set(50)
	p.OnHardwareExpiry() // earliest of {A@50, C@50}: A was already at 50 first

	assert.Equal(t, []event.InstanceID{0xB, 0xC, 0xC, 0xA}, fired)
}

func TestCancelTimerRequiresOwnerMatch(t *testing.T) {
	clock := chretime.NewFakeClock(0)
	hw := &fakeHardware{}
	p := New(4, clock, hw, nil)

	id, err := p.SetTimer(event.InstanceID(1), 100, 0, nil)
	require.NoError(t, err)

	assert.False(t, p.CancelTimer(event.InstanceID(2), id))
	assert.True(t, p.CancelTimer(event.InstanceID(1), id))
	assert.Equal(t, 0, p.Len())
}

func TestCancelTimerReprogramsToNewHead(t *testing.T) {
	clock := chretime.NewFakeClock(0)
	hw := &fakeHardware{}
	p := New(4, clock, hw, nil)

	idHead, _ := p.SetTimer(event.InstanceID(1), 10, 0, nil)
	_, _ = p.SetTimer(event.InstanceID(2), 20, 0, nil)

	p.CancelTimer(event.InstanceID(1), idHead)

	assert.Equal(t, chretime.Nanos(20), hw.armed[len(hw.armed)-1])
}

func TestCancelAllForNanoappDisarmsWhenEmpty(t *testing.T) {
	clock := chretime.NewFakeClock(0)
	hw := &fakeHardware{}
	p := New(4, clock, hw, nil)

	_, _ = p.SetTimer(event.InstanceID(1), 10, 0, nil)
	_, _ = p.SetTimer(event.InstanceID(1), 20, 0, nil)

	removed := p.CancelAllForNanoapp(event.InstanceID(1))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, hw.disarmed)
	assert.Equal(t, 0, p.Len())
}

func TestTieBreakEarlierSetTimerWins(t *testing.T) {
	clock := chretime.NewFakeClock(0)
	hw := &fakeHardware{}
	p := New(4, clock, hw, nil)

	first, _ := p.SetTimer(event.InstanceID(1), 100, 0, nil)
	_, _ = p.SetTimer(event.InstanceID(2), 100, 0, nil)

	head, ok := p.timers.Front()
	require.True(t, ok)
	assert.Equal(t, first, head.id)
	assert.True(t, p.CancelTimer(event.InstanceID(1), first))
}
