package arbiter

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/laser"
	"github.com/edgeturret/turretcore/internal/metrics"
	"github.com/edgeturret/turretcore/internal/tracking"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

// channelCapacity is the bounded command channel's capacity (spec.md §4.5).
const channelCapacity = 64

type envelope struct {
	cmd  Command
	resp chan Response
}

// CommandArbiter fans every command producer onto one bounded channel and
// dispatches by tagged type. Safety commands (Disable, LaserArm(false))
// preempt pending motion commands already buffered.
type CommandArbiter struct {
	tracking *tracking.TrackingController
	laser    *laser.SafetyController
	log      *zap.Logger

	safetyCh chan envelope
	normalCh chan envelope

	lastActivityNano atomic.Int64
	idleTimeout      time.Duration
	idleTripped      atomic.Bool
	joystick         joystickState
	metrics          *metrics.Metrics

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New constructs an arbiter over already-constructed tracking and laser
// controllers and starts its dispatch and idle-watchdog loops.
func New(tc *tracking.TrackingController, lc *laser.SafetyController, idleTimeout time.Duration, log *zap.Logger) *CommandArbiter {
	if log == nil {
		log = zap.NewNop()
	}
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}
	a := &CommandArbiter{
		tracking:    tc,
		laser:       lc,
		log:         log,
		safetyCh:    make(chan envelope, channelCapacity),
		normalCh:    make(chan envelope, channelCapacity),
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	a.lastActivityNano.Store(time.Now().UnixNano())
	go a.run()
	return a
}

// SetMetrics installs the counters the arbiter increments on dispatch.
func (a *CommandArbiter) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// Close stops the dispatch loop. Idempotent.
func (a *CommandArbiter) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		<-a.stopped
	})
}

// Submit enqueues cmd and blocks until it has been dispatched. Producers
// back off on a full channel rather than spin — the channel send itself
// provides that backpressure.
func (a *CommandArbiter) Submit(cmd Command) Response {
	resp := make(chan Response, 1)
	env := envelope{cmd: cmd, resp: resp}
	if cmd.Safety() {
		a.safetyCh <- env
	} else {
		a.normalCh <- env
	}
	return <-resp
}

func (a *CommandArbiter) run() {
	defer close(a.stopped)
	idleCheck := time.NewTicker(time.Second)
	defer idleCheck.Stop()

	for {
		// Always prefer a buffered safety command over normal ones.
		select {
		case env := <-a.safetyCh:
			a.dispatch(env)
			continue
		default:
		}

		select {
		case <-a.done:
			return
		case env := <-a.safetyCh:
			a.dispatch(env)
		case env := <-a.normalCh:
			a.dispatch(env)
		case <-idleCheck.C:
			a.checkIdle()
		}
	}
}

func (a *CommandArbiter) checkIdle() {
	last := time.Unix(0, a.lastActivityNano.Load())
	if time.Since(last) < a.idleTimeout {
		return
	}
	if a.idleTripped.CompareAndSwap(false, true) {
		a.log.Warn("idle watchdog tripped, disabling motors and disarming laser")
		_ = a.tracking.Disable()
		_ = a.laser.Arm(false)
		if a.metrics != nil {
			a.metrics.IdleWatchdogTrip.Add(1)
		}
	}
}

// noteActivity records a joystick sample or detector update for the idle
// watchdog (spec.md §4.5 "Idle watchdog").
func (a *CommandArbiter) noteActivity() {
	a.lastActivityNano.Store(time.Now().UnixNano())
}

func (a *CommandArbiter) reviveFromIdle() {
	if a.idleTripped.CompareAndSwap(true, false) {
		_ = a.tracking.Enable()
	}
}

func (a *CommandArbiter) dispatch(env envelope) {
	a.reviveFromIdle()

	var resp Response
	switch cmd := env.cmd.(type) {
	case Jog:
		resp = a.dispatchJog(cmd)
	case MoveAbsolute:
		resp = a.dispatchMoveAbsolute(cmd)
	case CenterOnPixel:
		resp = a.toResponse(a.tracking.CenterOnPixel(cmd.X, cmd.Y, cmd.FrameW, cmd.FrameH))
	case TrackTarget:
		resp = a.toResponse(a.tracking.TrackTarget(cmd.CX, cmd.CY, cmd.FrameW, cmd.FrameH, cmd.Timestamp))
	case SetMode:
		resp = a.dispatchSetMode(cmd)
	case Home:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := a.tracking.Home(ctx)
		resp = a.toResponse(err)
		if a.metrics != nil {
			if err == nil {
				a.metrics.HomeCount.Add(1)
			} else {
				a.metrics.HomeFailures.Add(1)
			}
		}
	case SetHome:
		a.tracking.SetHomeHere()
		resp = Ok()
	case Disable:
		resp = a.toResponse(a.tracking.Disable())
		_ = a.laser.Arm(false)
	case Enable:
		resp = a.toResponse(a.tracking.Enable())
	case LaserArm:
		resp = a.toResponse(a.laser.Arm(cmd.Armed))
	case LaserSetPower:
		resp = a.toResponse(a.laser.SetPower(cmd.Pct))
	case LaserFire:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dur := cmd.Duration
		if dur > 5*time.Second {
			dur = 5 * time.Second
		}
		err := a.laser.Fire(ctx, dur)
		resp = a.toResponse(err)
		if err == nil && a.metrics != nil {
			a.metrics.FireCount.Add(1)
		}
	case LaserBurst:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := a.laser.Burst(ctx, cmd.Count, cmd.On, cmd.Off)
		resp = a.toResponse(err)
		if err == nil && a.metrics != nil {
			a.metrics.BurstCount.Add(1)
		}
	default:
		resp = Rejected("unknown command")
	}

	if !resp.OK && a.metrics != nil {
		a.metrics.CommandsRejected.Add(1)
		if strings.HasPrefix(resp.Reason, string(turreterr.LimitBlocked)) {
			a.metrics.LimitTrips.Add(1)
		}
	}

	if env.resp != nil {
		env.resp <- resp
	}
}

func (a *CommandArbiter) dispatchJog(cmd Jog) Response {
	dx, dy := int64(0), int64(0)
	steps := int64(cmd.Steps) * int64(cmd.Direction)
	switch cmd.Axis {
	case "pan", "x":
		dx = steps
	case "tilt", "y":
		dy = steps
	default:
		return Rejected("unknown axis")
	}
	return a.toResponse(a.tracking.MoveBy(dx, dy))
}

func (a *CommandArbiter) dispatchMoveAbsolute(cmd MoveAbsolute) Response {
	snap := a.tracking.Snapshot()
	dx := cmd.XSteps - snap.Pan.Position
	dy := cmd.YSteps - snap.Tilt.Position
	return a.toResponse(a.tracking.MoveBy(dx, dy))
}

func (a *CommandArbiter) dispatchSetMode(cmd SetMode) Response {
	mode := tracking.CameraIdle
	if cmd.Crosshair {
		mode = tracking.Crosshair
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.toResponse(a.tracking.SetMode(ctx, mode))
}

func (a *CommandArbiter) toResponse(err error) Response {
	if err == nil {
		return Ok()
	}
	if kind, ok := turreterr.KindOf(err); ok {
		return Rejected(string(kind) + ": " + err.Error())
	}
	return Rejected(err.Error())
}
