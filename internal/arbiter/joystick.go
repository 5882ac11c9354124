package arbiter

import (
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/turreterr"
)

// JoystickConfig tunes the deadzone/speed-scaling formula applied to raw
// joystick samples (spec.md §4.5 "Remote input").
type JoystickConfig struct {
	Deadzone          float64
	SpeedScaling      float64
	MaxStepsPerUpdate int64
	DefaultFireMs     int
}

// JoystickSample is one decoded CSV frame: "x,y,joy_btn,laser_btn,power".
type JoystickSample struct {
	X, Y      int
	JoyBtn    bool
	LaserBtn  bool
	Power     int
}

// DecodeJoystick parses one CSV line. Malformed lines return a Malformed
// error so the caller can drop and warn without tripping the watchdog
// (spec.md §6 "Joystick wire format").
func DecodeJoystick(line string) (JoystickSample, error) {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, ",")
	if len(fields) != 5 {
		return JoystickSample{}, turreterr.New(turreterr.Malformed, "expected 5 fields, got %d", len(fields))
	}

	x, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || x < -100 || x > 100 {
		return JoystickSample{}, turreterr.New(turreterr.Malformed, "invalid x %q", fields[0])
	}
	y, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || y < -100 || y > 100 {
		return JoystickSample{}, turreterr.New(turreterr.Malformed, "invalid y %q", fields[1])
	}
	joyBtn, err := strconv.ParseBool(strings.TrimSpace(fields[2]))
	if err != nil {
		return JoystickSample{}, turreterr.New(turreterr.Malformed, "invalid joy_btn %q", fields[2])
	}
	laserBtn, err := strconv.ParseBool(strings.TrimSpace(fields[3]))
	if err != nil {
		return JoystickSample{}, turreterr.New(turreterr.Malformed, "invalid laser_btn %q", fields[3])
	}
	power, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil || power < 0 || power > 100 {
		return JoystickSample{}, turreterr.New(turreterr.Malformed, "invalid power %q", fields[4])
	}

	return JoystickSample{X: x, Y: y, JoyBtn: joyBtn, LaserBtn: laserBtn, Power: power}, nil
}

// effectiveAxis applies the deadzone/speed-scaling formula from spec.md
// §4.5 to one axis of a raw joystick reading.
func effectiveAxis(raw int, cfg JoystickConfig) int64 {
	abs := raw
	sign := 1.0
	if abs < 0 {
		abs = -abs
		sign = -1.0
	}
	if float64(abs) < cfg.Deadzone {
		return 0
	}
	span := 100 - cfg.Deadzone
	if span <= 0 {
		return 0
	}
	scaled := clampFloat(float64(abs)-cfg.Deadzone, 0, span)
	steps := sign * scaled * cfg.SpeedScaling * float64(cfg.MaxStepsPerUpdate) / span
	return int64(math.Round(steps))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// lastLaserBtn tracks the previous sample's laser_btn for edge detection.
// IngestJoystick is expected to be called from a single ingest goroutine,
// so this is not guarded by a mutex.
type joystickState struct {
	lastLaserBtn bool
}

// IngestJoystick decodes line, applies the deadzone/scaling formula, and
// forwards the result as a move plus an edge-triggered laser fire. Decode
// failures are swallowed after logging — the idle watchdog keeps running
// on bad input per spec.md §6.
func (a *CommandArbiter) IngestJoystick(line string, cfg JoystickConfig) {
	sample, err := DecodeJoystick(line)
	if err != nil {
		a.log.Warn("dropping malformed joystick sample", zap.Error(err))
		if a.metrics != nil {
			a.metrics.JoystickDropped.Add(1)
		}
		return
	}
	a.noteActivity()

	dx := effectiveAxis(sample.X, cfg)
	dy := effectiveAxis(sample.Y, cfg)
	if dx != 0 || dy != 0 {
		a.Submit(Jog{Axis: "pan", Steps: int(abs64(dx)), Direction: sign64(dx)})
		a.Submit(Jog{Axis: "tilt", Steps: int(abs64(dy)), Direction: sign64(dy)})
	}

	rising := sample.LaserBtn && !a.joystick.lastLaserBtn
	a.joystick.lastLaserBtn = sample.LaserBtn
	if rising {
		status := a.laser.Status()
		if status.Armed {
			_ = a.laser.SetPower(sample.Power)
			durationMs := cfg.DefaultFireMs
			if durationMs <= 0 {
				durationMs = 200
			}
			a.Submit(LaserFire{Duration: time.Duration(durationMs) * time.Millisecond})
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int {
	if v < 0 {
		return -1
	}
	return 1
}
