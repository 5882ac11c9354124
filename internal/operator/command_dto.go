package operator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgeturret/turretcore/internal/arbiter"
)

// commandEnvelope is the wire shape of one operator command request: a
// "type" discriminator plus type-specific fields, mirroring the sealed
// Command set in internal/arbiter (spec.md §6 "Operator command API").
type commandEnvelope struct {
	Type      string        `json:"type"`
	Axis      string        `json:"axis,omitempty"`
	Steps     int           `json:"steps,omitempty"`
	Direction int           `json:"direction,omitempty"`
	XSteps    int64         `json:"x_steps,omitempty"`
	YSteps    int64         `json:"y_steps,omitempty"`
	X         int           `json:"x,omitempty"`
	Y         int           `json:"y,omitempty"`
	FrameW    int           `json:"frame_w,omitempty"`
	FrameH    int           `json:"frame_h,omitempty"`
	Crosshair bool          `json:"crosshair,omitempty"`
	Armed     bool          `json:"armed,omitempty"`
	Pct       int           `json:"pct,omitempty"`
	DurationMs int64        `json:"duration_ms,omitempty"`
	Count     int           `json:"count,omitempty"`
	OnMs      int64         `json:"on_ms,omitempty"`
	OffMs     int64         `json:"off_ms,omitempty"`
}

// decodeCommand parses raw JSON into a concrete arbiter.Command.
func decodeCommand(raw []byte) (arbiter.Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}

	switch env.Type {
	case "jog":
		return arbiter.Jog{Axis: env.Axis, Steps: env.Steps, Direction: env.Direction}, nil
	case "move_absolute":
		return arbiter.MoveAbsolute{XSteps: env.XSteps, YSteps: env.YSteps}, nil
	case "center_on_pixel":
		return arbiter.CenterOnPixel{X: env.X, Y: env.Y, FrameW: env.FrameW, FrameH: env.FrameH}, nil
	case "track_target":
		return arbiter.TrackTarget{CX: env.X, CY: env.Y, FrameW: env.FrameW, FrameH: env.FrameH, Timestamp: time.Now()}, nil
	case "set_mode":
		return arbiter.SetMode{Crosshair: env.Crosshair}, nil
	case "home":
		return arbiter.Home{}, nil
	case "set_home":
		return arbiter.SetHome{}, nil
	case "disable":
		return arbiter.Disable{}, nil
	case "enable":
		return arbiter.Enable{}, nil
	case "laser_arm":
		return arbiter.LaserArm{Armed: env.Armed}, nil
	case "laser_set_power":
		return arbiter.LaserSetPower{Pct: env.Pct}, nil
	case "laser_fire":
		return arbiter.LaserFire{Duration: time.Duration(env.DurationMs) * time.Millisecond}, nil
	case "laser_burst":
		return arbiter.LaserBurst{
			Count: env.Count,
			On:    time.Duration(env.OnMs) * time.Millisecond,
			Off:   time.Duration(env.OffMs) * time.Millisecond,
		}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
}
