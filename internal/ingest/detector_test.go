package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeturret/turretcore/internal/arbiter"
	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/laser"
	"github.com/edgeturret/turretcore/internal/stepper"
	"github.com/edgeturret/turretcore/internal/tracking"
)

func newTestArbiter(t *testing.T) (*arbiter.CommandArbiter, *tracking.TrackingController) {
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
	calib.MaxStepsFromHomeX, calib.MaxStepsFromHomeY = 1000, 1000
	tc := tracking.NewTrackingController(pan, tilt, calib, nil)
	t.Cleanup(tc.Close)

	lc, err := laser.NewSafetyController(gpio, laser.Config{
		Pin: 11, FreqHz: 2000, MaxPowerPct: 100,
		DefaultCooldown: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	a := arbiter.New(tc, lc, time.Minute, nil)
	t.Cleanup(a.Close)
	return a, tc
}

func TestOnDetection_ForwardsLargestBoxAsTrackTarget(t *testing.T) {
	a, tc := newTestArbiter(t)
	require.NoError(t, tc.SetMode(context.Background(), tracking.CameraTracking))

	feed := NewDetectorFeed(a)
	feed.OnDetection([]arbiter.Detection{
		{Kind: "person", X: 0, Y: 0, W: 10, H: 10, Confidence: 0.5},
		{Kind: "person", X: 100, Y: 100, W: 40, H: 40, Confidence: 0.9},
	}, 640, 480, time.Now())

	// The larger box is centred at (120,120): a pixel error of -200 on X.
	// First PID sample with the default gains: 0.6*-200 + 0.05*(-200*0.001)
	// = -120.01 px, times 4 steps/px = -480 steps. The smaller box would
	// settle at -756, so pan resting idle at -480 identifies the larger one.
	assert.Eventually(t, func() bool {
		s := tc.Snapshot()
		return s.HasTrackedOnce && s.Pan.Position == -480 && s.Pan.Status == "idle"
	}, time.Second, time.Millisecond)
}

func TestOnDetection_EmptySliceIsNoOp(t *testing.T) {
	a, tc := newTestArbiter(t)
	feed := NewDetectorFeed(a)
	feed.OnDetection(nil, 640, 480, time.Now())
	assert.Equal(t, time.Duration(0), tc.LastTargetAge())
}
