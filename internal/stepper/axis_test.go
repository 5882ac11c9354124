package stepper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

func testConfig() AxisConfig {
	return AxisConfig{
		Name:              "pan",
		StepPin:           1,
		DirPin:            2,
		EnablePin:         3,
		CWLimitPin:        4,
		CCWLimitPin:       5,
		StepsPerRev:       200,
		Microsteps:        8,
		MinStepDelay:      10 * time.Microsecond,
		AccelerationSteps: 5,
		BackoffSteps:      10,
		HomeTimeout:       2 * time.Second,
	}
}

func newTestAxis(t *testing.T) (*StepperAxis, *hal.MockGPIO) {
	t.Helper()
	gpio := hal.NewMockGPIO()
	axis, err := NewStepperAxis(gpio, testConfig())
	require.NoError(t, err)
	return axis, gpio
}

func TestNewStepperAxis_RejectsInvalidConfig(t *testing.T) {
	gpio := hal.NewMockGPIO()

	cfg := testConfig()
	cfg.StepsPerRev = 0
	_, err := NewStepperAxis(gpio, cfg)
	require.Error(t, err)
	kind, ok := turreterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, turreterr.InvalidConfig, kind)

	cfg = testConfig()
	cfg.Microsteps = 3
	_, err = NewStepperAxis(gpio, cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.MinStepDelay = 0
	_, err = NewStepperAxis(gpio, cfg)
	require.Error(t, err)
}

func TestStep_PositionBookkeeping(t *testing.T) {
	axis, _ := newTestAxis(t)

	outcome, err := axis.Step(context.Background(), CW, 20, time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, 20, outcome.StepsEmitted)
	assert.Equal(t, Completed, outcome.TerminatedBy)
	assert.EqualValues(t, 20, axis.Position())

	outcome, err = axis.Step(context.Background(), CCW, 5, time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.StepsEmitted)
	assert.EqualValues(t, 15, axis.Position())
	assert.Equal(t, Idle, axis.Status())
}

func TestStep_RejectsNegativeCount(t *testing.T) {
	axis, _ := newTestAxis(t)
	_, err := axis.Step(context.Background(), CW, -1, time.Microsecond)
	require.Error(t, err)
	kind, _ := turreterr.KindOf(err)
	assert.Equal(t, turreterr.InvalidArgument, kind)
}

func TestStep_LimitBlocksFurtherMotionInThatDirection(t *testing.T) {
	axis, gpio := newTestAxis(t)

	gpio.Inject(axis.cfg.CWLimitPin, false)
	assert.Eventually(t, func() bool { return axis.Status() == LimitReached }, time.Second, time.Millisecond)

	_, err := axis.Step(context.Background(), CW, 10, time.Microsecond)
	require.Error(t, err)
	kind, ok := turreterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, turreterr.LimitBlocked, kind)

	// The opposite direction is unaffected and clears the latch.
	outcome, err := axis.Step(context.Background(), CCW, 3, time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.StepsEmitted)
}

func TestStep_StopsWhenLimitTriggersMidMove(t *testing.T) {
	axis, gpio := newTestAxis(t)

	go func() {
		time.Sleep(2 * time.Millisecond)
		gpio.Inject(axis.cfg.CWLimitPin, false)
	}()

	outcome, err := axis.Step(context.Background(), CW, 100000, 50*time.Microsecond)
	require.Error(t, err)
	kind, _ := turreterr.KindOf(err)
	_ = kind
	assert.Equal(t, LimitHit, outcome.TerminatedBy)
	assert.Less(t, outcome.StepsEmitted, 100000)
}

func TestStep_CancellationStopsMotion(t *testing.T) {
	axis, _ := newTestAxis(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(2 * time.Millisecond)
		cancel()
	}()

	outcome, err := axis.Step(ctx, CW, 1000000, 50*time.Microsecond)
	require.Error(t, err)
	kind, ok := turreterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, turreterr.Cancelled, kind)
	assert.Equal(t, Cancelled, outcome.TerminatedBy)
	assert.Less(t, outcome.StepsEmitted, 1000000)
}

func TestHome_CentersWithinOneStep(t *testing.T) {
	axis, gpio := newTestAxis(t)

	go func() {
		for {
			if axis.Status() != Homing {
				time.Sleep(50 * time.Microsecond)
				continue
			}
			pos := axis.Position()
			if pos <= -500 {
				gpio.Inject(axis.cfg.CCWLimitPin, false)
			}
			if pos >= 500 {
				gpio.Inject(axis.cfg.CWLimitPin, false)
			}
			time.Sleep(10 * time.Microsecond)
		}
	}()

	err := axis.Home(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0, axis.Position(), 1)
	assert.Equal(t, Idle, axis.Status())
}

func TestRelease_DrivesEnablePinInactive(t *testing.T) {
	axis, gpio := newTestAxis(t)
	require.NoError(t, axis.Enable())
	level, err := gpio.Read(axis.cfg.EnablePin)
	require.NoError(t, err)
	assert.False(t, level)

	require.NoError(t, axis.Release())
	level, err = gpio.Read(axis.cfg.EnablePin)
	require.NoError(t, err)
	assert.True(t, level)
}

func TestSetHomeHere_ZeroesPositionWithoutMoving(t *testing.T) {
	axis, _ := newTestAxis(t)
	_, err := axis.Step(context.Background(), CW, 50, time.Microsecond)
	require.NoError(t, err)
	require.NotZero(t, axis.Position())

	axis.SetHomeHere()
	assert.EqualValues(t, 0, axis.Position())
}
