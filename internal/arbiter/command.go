// Package arbiter serializes every command producer — MQTT joystick,
// detector callback, operator surface — onto one bounded channel, and
// dispatches to the tracking and laser controllers by tagged type instead
// of a dynamic action string (spec.md §4.5, §9).
package arbiter

import "time"

// Command is the sealed set of turret commands. Each concrete type
// implements isCommand so the compiler (and a type switch in the
// dispatcher) enumerates the full set; there is no string-keyed dispatch.
type Command interface {
	isCommand()
	// Safety reports whether this command must preempt pending
	// non-safety commands already buffered (spec.md §4.5 "Priority").
	Safety() bool
}

type baseCommand struct{}

func (baseCommand) isCommand() {}
func (baseCommand) Safety() bool { return false }

// Jog requests a bounded manual step on one axis.
type Jog struct {
	baseCommand
	Axis      string // "pan" | "tilt"
	Steps     int
	Direction int // +1 or -1
}

// MoveAbsolute moves to an absolute position relative to home.
type MoveAbsolute struct {
	baseCommand
	XSteps int64
	YSteps int64
}

// CenterOnPixel converts a pixel offset to a step delta and enqueues it.
type CenterOnPixel struct {
	baseCommand
	X, Y           int
	FrameW, FrameH int
}

// TrackTarget is a detector-sourced centroid, subject to PID and dead zone.
type TrackTarget struct {
	baseCommand
	CX, CY         int
	FrameW, FrameH int
	Timestamp      time.Time
}

// SetMode changes the arbitration mode.
type SetMode struct {
	baseCommand
	Crosshair bool
}

// Home requests a blocking home of both axes.
type Home struct{ baseCommand }

// SetHome zeroes both axes' position in place.
type SetHome struct{ baseCommand }

// Disable is a safety command: it releases both axis drivers and disarms
// the laser.
type Disable struct{ baseCommand }

func (Disable) Safety() bool { return true }

// Enable energizes both axis drivers.
type Enable struct{ baseCommand }

// LaserArm toggles the laser's armed state. Disarming is a safety command.
type LaserArm struct {
	baseCommand
	Armed bool
}

func (c LaserArm) Safety() bool { return !c.Armed }

// LaserSetPower sets the commanded laser power percentage.
type LaserSetPower struct {
	baseCommand
	Pct int
}

// LaserFire fires the laser for the given duration.
type LaserFire struct {
	baseCommand
	Duration time.Duration
}

// LaserBurst fires count pulses separated by off gaps.
type LaserBurst struct {
	baseCommand
	Count int
	On    time.Duration
	Off   time.Duration
}

// Response is the result of dispatching one Command.
type Response struct {
	OK     bool
	Reason string
}

// Ok is the canonical successful response.
func Ok() Response { return Response{OK: true} }

// Rejected builds a failure response carrying reason.
func Rejected(reason string) Response { return Response{OK: false, Reason: reason} }
