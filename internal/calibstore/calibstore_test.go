package calibstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeturret/turretcore/internal/tracking"
)

func TestLoad_ReturnsFallbackWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "calibration.yaml"))
	require.NoError(t, err)

	fallback := tracking.DefaultCalibration()
	calib, err := s.Load(fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, calib)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "calibration.yaml"))
	require.NoError(t, err)

	calib := tracking.DefaultCalibration()
	calib.KP = 1.25
	calib.XStepsPerPixel = 7.5

	require.NoError(t, s.Save(calib))

	loaded, err := s.Load(tracking.Calibration{})
	require.NoError(t, err)
	assert.Equal(t, calib, loaded)
}

func TestSave_LeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "calibration.yaml"))
	require.NoError(t, err)
	require.NoError(t, s.Save(tracking.DefaultCalibration()))

	matches, err := filepath.Glob(filepath.Join(dir, ".calibration-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
