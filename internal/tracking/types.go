// Package tracking owns the pan/tilt axis pair, calibration, PID state, and
// the mode arbitration between crosshair (manual jog) and camera-driven
// tracking (spec.md §4.3).
package tracking

import "time"

// Mode is the tracking controller's arbitration state.
type Mode int

const (
	Crosshair Mode = iota
	CameraIdle
	CameraHoming
	CameraTracking
	CameraDisabled
)

func (m Mode) String() string {
	switch m {
	case Crosshair:
		return "crosshair"
	case CameraIdle:
		return "camera_idle"
	case CameraHoming:
		return "camera_homing"
	case CameraTracking:
		return "camera_tracking"
	case CameraDisabled:
		return "camera_disabled"
	default:
		return "unknown"
	}
}

// Calibration is the persisted tuning blob shared by both axes (spec.md §3,
// §6). Field names mirror the on-disk YAML schema in internal/calibstore.
type Calibration struct {
	XStepsPerPixel               float64 `yaml:"x_steps_per_pixel" json:"x_steps_per_pixel"`
	YStepsPerPixel               float64 `yaml:"y_steps_per_pixel" json:"y_steps_per_pixel"`
	DeadZonePixels               float64 `yaml:"dead_zone_pixels" json:"dead_zone_pixels"`
	MaxStepsFromHomeX            int64   `yaml:"max_steps_from_home_x" json:"max_steps_from_home_x"`
	MaxStepsFromHomeY            int64   `yaml:"max_steps_from_home_y" json:"max_steps_from_home_y"`
	KP                           float64 `yaml:"kp" json:"kp"`
	KI                           float64 `yaml:"ki" json:"ki"`
	KD                           float64 `yaml:"kd" json:"kd"`
	RecenterOnLoss               bool    `yaml:"recenter_on_loss" json:"recenter_on_loss"`
	HomeRecenterRateStepsPerTick int64   `yaml:"home_recenter_rate_steps_per_tick" json:"home_recenter_rate_steps_per_tick"`
}

// DefaultCalibration returns a conservative starting blob (spec.md open
// question: defaults are not specified, so a gentle gain set is chosen to
// avoid an oscillating axis on first boot).
func DefaultCalibration() Calibration {
	return Calibration{
		XStepsPerPixel:               4.0,
		YStepsPerPixel:               4.0,
		DeadZonePixels:               6.0,
		MaxStepsFromHomeX:            4000,
		MaxStepsFromHomeY:            2000,
		KP:                           0.6,
		KI:                           0.05,
		KD:                           0.1,
		RecenterOnLoss:               true,
		HomeRecenterRateStepsPerTick: 4,
	}
}

// pidState is the per-axis PID accumulator (spec.md §3 PIDState).
type pidState struct {
	lastErr   float64
	integral  float64
	lastTS    time.Time
	hasSample bool
}

func (p *pidState) reset() {
	p.lastErr = 0
	p.integral = 0
	p.hasSample = false
}

// AxisSnapshot is the read-only view of one axis exposed in telemetry.
type AxisSnapshot struct {
	Name      string
	Position  int64
	Status    string
	LastError string
}

// Snapshot is the full tracking-controller state exposed to telemetry and
// the operator surface.
type Snapshot struct {
	Mode            Mode
	Pan             AxisSnapshot
	Tilt            AxisSnapshot
	Calibration     Calibration
	LastTargetAge   time.Duration
	HasTrackedOnce  bool
}
