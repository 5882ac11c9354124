package stepper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepDelay_TrapezoidalProfile(t *testing.T) {
	minDelay := 100 * time.Microsecond
	accel := 10
	count := 40

	assert.Equal(t, 4*minDelay, stepDelay(0, count, accel, minDelay))
	assert.Equal(t, minDelay, stepDelay(accel, count, accel, minDelay))
	assert.Equal(t, minDelay, stepDelay(count-accel-1, count, accel, minDelay))
	assert.Equal(t, 4*minDelay, stepDelay(count-1, count, accel, minDelay))

	// Monotonically decreasing through the acceleration ramp.
	prev := stepDelay(0, count, accel, minDelay)
	for i := 1; i < accel; i++ {
		cur := stepDelay(i, count, accel, minDelay)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestStepDelay_TriangularWhenShort(t *testing.T) {
	minDelay := 100 * time.Microsecond
	accel := 10
	count := 8 // shorter than 2*accel

	mid := stepDelay(count/2, count, accel, minDelay)
	first := stepDelay(0, count, accel, minDelay)
	last := stepDelay(count-1, count, accel, minDelay)

	assert.Equal(t, first, last)
	assert.LessOrEqual(t, mid, first)
}

func TestStepDelay_NoAccelerationReturnsMinDelay(t *testing.T) {
	minDelay := 50 * time.Microsecond
	assert.Equal(t, minDelay, stepDelay(0, 100, 0, minDelay))
	assert.Equal(t, minDelay, stepDelay(50, 100, 0, minDelay))
}
