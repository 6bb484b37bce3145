package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckEventWithinLimitDoesNotBreach(t *testing.T) {
	l := New(1.0, 3)

	assert.False(t, l.CheckEvent(0.1))
	assert.False(t, l.CheckEvent(0.2))
	assert.False(t, l.CheckEvent(0.3))
}

func TestCheckEventBreachesOverLimit(t *testing.T) {
	l := New(1.0, 2)

	assert.False(t, l.CheckEvent(0.1))
	assert.False(t, l.CheckEvent(0.2))
	assert.True(t, l.CheckEvent(0.3))
}

func TestCheckEventSlidesWindowForward(t *testing.T) {
	l := New(1.0, 2)

	assert.False(t, l.CheckEvent(0.0))
	assert.False(t, l.CheckEvent(0.5))
	// By t=1.6 the events at t=0.0 and t=0.5 have both fallen out of the
	// 1-second window (0.6, 1.6], so only the event at 1.6 is within it.
	assert.False(t, l.CheckEvent(1.6))
}
