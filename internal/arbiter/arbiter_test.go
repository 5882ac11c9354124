package arbiter

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

func newTestArbiter(t *testing.T, idleTimeout time.Duration) (*CommandArbiter, *tracking.TrackingController, *laser.SafetyController) {
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

	a := New(tc, lc, idleTimeout, nil)
	t.Cleanup(a.Close)
	return a, tc, lc
}

func TestSubmit_EnableThenMoveByJog(t *testing.T) {
	a, tc, _ := newTestArbiter(t, time.Minute)
	require.NoError(t, tc.SetMode(context.Background(), tracking.CameraIdle))

	resp := a.Submit(Jog{Axis: "pan", Steps: 20, Direction: 1})
	assert.True(t, resp.OK)

	assert.Eventually(t, func() bool {
		return tc.Snapshot().Pan.Position == 20
	}, time.Second, time.Millisecond)
}

func TestSubmit_DisableIsSafetyAndDisarmsLaser(t *testing.T) {
	a, _, lc := newTestArbiter(t, time.Minute)
	require.NoError(t, lc.Arm(true))

	resp := a.Submit(Disable{})
	assert.True(t, resp.OK)
	assert.Eventually(t, func() bool { return !lc.Status().Armed }, time.Second, time.Millisecond)
}

func TestSubmit_LaserFireRejectedWhenDisarmed(t *testing.T) {
	a, _, _ := newTestArbiter(t, time.Minute)
	resp := a.Submit(LaserFire{Duration: 5 * time.Millisecond})
	assert.False(t, resp.OK)
}

func TestDecodeJoystick_RejectsMalformed(t *testing.T) {
	_, err := DecodeJoystick("1,2,3")
	require.Error(t, err)

	_, err = DecodeJoystick("200,0,false,false,50")
	require.Error(t, err)

	_, err = DecodeJoystick("10,-10,true,false,notabool")
	require.Error(t, err)
}

func TestDecodeJoystick_AcceptsWellFormed(t *testing.T) {
	sample, err := DecodeJoystick("42,-10,true,false,75")
	require.NoError(t, err)
	assert.Equal(t, 42, sample.X)
	assert.Equal(t, -10, sample.Y)
	assert.True(t, sample.JoyBtn)
	assert.False(t, sample.LaserBtn)
	assert.Equal(t, 75, sample.Power)
}

func TestEffectiveAxis_AppliesDeadzoneAndScaling(t *testing.T) {
	cfg := JoystickConfig{Deadzone: 10, SpeedScaling: 0.5, MaxStepsPerUpdate: 20}

	assert.EqualValues(t, 0, effectiveAxis(5, cfg))   // inside deadzone
	assert.EqualValues(t, 0, effectiveAxis(-5, cfg))

	got := effectiveAxis(60, cfg)
	assert.Greater(t, got, int64(0))

	gotNeg := effectiveAxis(-60, cfg)
	assert.Equal(t, -got, gotNeg)
}

func TestEffectiveAxis_MatchesJoystickScenarioMath(t *testing.T) {
	cfg := JoystickConfig{Deadzone: 5, SpeedScaling: 0.10, MaxStepsPerUpdate: 50}
	assert.EqualValues(t, 2, effectiveAxis(50, cfg))
	assert.EqualValues(t, -2, effectiveAxis(-50, cfg))
}

func TestIngestDetections_SelectsLargestBoundingBox(t *testing.T) {
	a, tc, _ := newTestArbiter(t, time.Minute)
	require.NoError(t, tc.SetMode(context.Background(), tracking.CameraIdle))

	dets := []Detection{
		{Kind: "person", X: 10, Y: 10, W: 20, H: 20},
		{Kind: "person", X: 300, Y: 200, W: 80, H: 80},
	}
	a.IngestDetections(dets, 640, 480, time.Now())

	assert.Eventually(t, func() bool {
		return tc.Snapshot().Mode == tracking.CameraTracking
	}, time.Second, time.Millisecond)

	// The larger box is centred at (340,240), right of the frame centre,
	// so pan moves CW; the smaller box at (20,20) would move it CCW.
	assert.Eventually(t, func() bool {
		return tc.Snapshot().Pan.Position > 0
	}, time.Second, time.Millisecond)
}

func TestIdleWatchdog_DisablesAfterTimeout(t *testing.T) {
	a, tc, lc := newTestArbiter(t, 30*time.Millisecond)
	require.NoError(t, tc.SetMode(context.Background(), tracking.CameraIdle))
	require.NoError(t, lc.Arm(true))

	assert.Eventually(t, func() bool {
		return !lc.Status().Armed
	}, 2*time.Second, 5*time.Millisecond)
}
