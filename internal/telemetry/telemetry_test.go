package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/laser"
	"github.com/edgeturret/turretcore/internal/stepper"
	"github.com/edgeturret/turretcore/internal/tracking"
)

func newTestPublisher(t *testing.T, rate time.Duration) (*Publisher, *tracking.TrackingController, *laser.SafetyController) {
	t.Helper()
	gpio := hal.NewMockGPIO()

	panCfg := stepper.AxisConfig{
		Name: "pan", StepPin: 1, DirPin: 2, EnablePin: 3,
		CWLimitPin: 4, CCWLimitPin: 5, StepsPerRev: 200, Microsteps: 8,
		MinStepDelay: time.Microsecond, AccelerationSteps: 2,
	}
	tiltCfg := panCfg
	tiltCfg.Name = "tilt"
	tiltCfg.StepPin, tiltCfg.DirPin, tiltCfg.EnablePin = 6, 7, 8
	tiltCfg.CWLimitPin, tiltCfg.CCWLimitPin = 9, 10

	pan, err := stepper.NewStepperAxis(gpio, panCfg)
	require.NoError(t, err)
	tilt, err := stepper.NewStepperAxis(gpio, tiltCfg)
	require.NoError(t, err)

	calib := tracking.DefaultCalibration()
	tc := tracking.NewTrackingController(pan, tilt, calib, nil)
	t.Cleanup(tc.Close)

	lc, err := laser.NewSafetyController(gpio, laser.Config{
		Pin: 11, FreqHz: 2000, MaxPowerPct: 100,
		DefaultCooldown: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	p := NewPublisher(tc, lc, rate)
	t.Cleanup(p.Close)
	return p, tc, lc
}

func TestSnapshot_ReflectsTrackingAndLaserState(t *testing.T) {
	p, tc, lc := newTestPublisher(t, time.Hour)
	require.NoError(t, tc.SetMode(context.Background(), tracking.CameraIdle))
	require.NoError(t, lc.Arm(true))
	require.NoError(t, lc.SetPower(42))

	snap := p.Snapshot()
	assert.Equal(t, "camera_idle", snap.Mode)
	assert.Equal(t, "pan", snap.Pan.Name)
	assert.Equal(t, "tilt", snap.Tilt.Name)
	assert.True(t, snap.Laser.Armed)
	assert.Equal(t, 42, snap.Laser.PowerPct)
}

func TestSnapshot_SequenceIncreasesMonotonically(t *testing.T) {
	p, _, _ := newTestPublisher(t, time.Hour)

	first := p.Snapshot().Sequence
	second := p.Snapshot().Sequence
	third := p.Snapshot().Sequence

	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestSubscribe_ReceivesTickedSnapshots(t *testing.T) {
	p, _, _ := newTestPublisher(t, 10*time.Millisecond)

	ch := make(chan Snapshot, 4)
	p.Subscribe(ch)

	select {
	case snap := <-ch:
		assert.NotZero(t, snap.Sequence)
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot within the tick rate")
	}
}

func TestSubscribe_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	p, _, _ := newTestPublisher(t, 5*time.Millisecond)

	full := make(chan Snapshot)
	p.Subscribe(full)

	time.Sleep(50 * time.Millisecond)

	drained := make(chan Snapshot, 1)
	p.Subscribe(drained)
	assert.Eventually(t, func() bool {
		select {
		case <-drained:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestClose_StopsTickingLoop(t *testing.T) {
	p, _, _ := newTestPublisher(t, 5*time.Millisecond)
	p.Close()
	p.Close() // idempotent
}
