package operator

import (
	"bytes"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/arbiter"
	"github.com/edgeturret/turretcore/internal/calibstore"
	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/laser"
	"github.com/edgeturret/turretcore/internal/metrics"
	"github.com/edgeturret/turretcore/internal/stepper"
	"github.com/edgeturret/turretcore/internal/telemetry"
	"github.com/edgeturret/turretcore/internal/tracking"
)

func newTestServer(t *testing.T) *Server {
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

	m := metrics.NewMetrics()
	a := arbiter.New(tc, lc, time.Minute, nil)
	a.SetMetrics(m)
	t.Cleanup(a.Close)

	pub := telemetry.NewPublisher(tc, lc, time.Hour)
	t.Cleanup(pub.Close)

	store, err := calibstore.New(filepath.Join(t.TempDir(), "calibration.yaml"))
	require.NoError(t, err)

	s := NewServer(a, tc, store, pub, m, zap.NewNop())
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/health", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestCommand_EnableSucceeds(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/command", bytes.NewBufferString(`{"type":"enable"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestCommand_UnknownTypeIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/command", bytes.NewBufferString(`{"type":"not_a_real_command"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestCommand_LaserFireRejectedWhenDisarmedReturnsConflict(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/command", bytes.NewBufferString(`{"type":"laser_fire","duration_ms":5}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
}

func TestCalibration_GetReturnsCurrentBlob(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/calibration", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestCalibration_PutReplacesAndPersists(t *testing.T) {
	s := newTestServer(t)
	body := `{"x_steps_per_pixel":9.5,"y_steps_per_pixel":9.5,"dead_zone_pixels":6,"kp":0.6,"ki":0.05,"kd":0.1,"max_steps_from_home_x":1000,"max_steps_from_home_y":1000,"recenter_on_loss":true,"home_recenter_rate_steps_per_tick":4}`
	req := httptest.NewRequest("PUT", "/api/calibration", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 9.5, s.tc.Calibration().XStepsPerPixel)
}

func TestMetrics_ServesPrometheusText(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/metrics", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "turretd_")
}

func TestTelemetry_ServesSnapshotJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/telemetry", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
