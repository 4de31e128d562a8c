package chretime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromDurationClampsNegative(t *testing.T) {
	assert.Equal(t, Nanos(0), FromDuration(-5*time.Second))
	assert.Equal(t, Nanos(5000000000), FromDuration(5*time.Second))
}

func TestNanosRoundTripsDuration(t *testing.T) {
	d := 250 * time.Millisecond
	assert.Equal(t, d, FromDuration(d).Duration())
}

func TestFakeClockAdvanceAndSet(t *testing.T) {
	c := NewFakeClock(100)
	assert.Equal(t, Nanos(100), c.Now())

	assert.Equal(t, Nanos(150), c.Advance(50))
	assert.Equal(t, Nanos(150), c.Now())

	c.Set(1000)
	assert.Equal(t, Nanos(1000), c.Now())
}
