package tracking

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/stepper"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

// requestKind identifies the moveRequest variants the mover coalesces on.
// A newer request of the same kind replaces an older pending one of that
// kind; requests of different kinds stand independently (spec.md §4.3
// "Mover task").
type requestKind int

const (
	kindManual requestKind = iota
	kindTracking
	kindRecenter
)

// moveRequest is an absolute target position for both axes, expressed in
// steps from home, already clamped to the configured travel limits.
type moveRequest struct {
	kind       requestKind
	targetPanX int64
	targetTilY int64
}

// TrackingController owns the pan/tilt axis pair, shared calibration, PID
// state, and the crosshair/camera mode state machine (spec.md §4.3).
type TrackingController struct {
	log *zap.Logger

	pan  *stepper.StepperAxis
	tilt *stepper.StepperAxis

	mu            sync.Mutex
	mode          Mode
	calib         Calibration
	pidX, pidY    pidState
	lastTargetTS  time.Time
	hasTracked    bool

	moverMu sync.Mutex
	pending map[requestKind]moveRequest
	wake    chan struct{}

	lossTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewTrackingController constructs a controller over already-homed-capable
// pan/tilt axes and starts its mover and loss-watch goroutines.
func NewTrackingController(pan, tilt *stepper.StepperAxis, calib Calibration, log *zap.Logger) *TrackingController {
	if log == nil {
		log = zap.NewNop()
	}
	c := &TrackingController{
		log:         log,
		pan:         pan,
		tilt:        tilt,
		mode:        Crosshair,
		calib:       calib,
		pending:     make(map[requestKind]moveRequest),
		wake:        make(chan struct{}, 1),
		lossTimeout: 500 * time.Millisecond,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go c.moverLoop()
	go c.lossWatchLoop()
	return c
}

// Close stops the mover and loss-watch goroutines. Idempotent.
func (c *TrackingController) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.stopped
	})
}

// SetMode transitions the arbitration mode (spec.md §4.3 state machine).
// Switching to Crosshair from a camera mode first requests a home.
func (c *TrackingController) SetMode(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	current := c.mode
	c.mu.Unlock()

	if mode == current {
		return nil
	}

	switch mode {
	case Crosshair:
		if current != Crosshair {
			c.setModeLocked(CameraHoming)
			if err := c.Home(ctx); err != nil {
				return err
			}
		}
		c.setModeLocked(Crosshair)
	case CameraIdle, CameraTracking:
		c.setModeLocked(CameraIdle)
	case CameraDisabled:
		c.setModeLocked(CameraDisabled)
	default:
		return turreterr.New(turreterr.InvalidArgument, "unknown mode %d", mode)
	}
	return nil
}

func (c *TrackingController) setModeLocked(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

func (c *TrackingController) currentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Enable energizes both axis drivers.
func (c *TrackingController) Enable() error {
	if err := c.pan.Enable(); err != nil {
		return err
	}
	return c.tilt.Enable()
}

// Disable releases both axis drivers and moves to CameraDisabled if the
// controller was in a camera mode.
func (c *TrackingController) Disable() error {
	c.mu.Lock()
	if c.mode != Crosshair {
		c.mode = CameraDisabled
	}
	c.mu.Unlock()
	if err := c.pan.Release(); err != nil {
		return err
	}
	return c.tilt.Release()
}

// Home homes both axes sequentially, blocking until both complete or an
// error occurs.
func (c *TrackingController) Home(ctx context.Context) error {
	if err := c.pan.Home(ctx); err != nil {
		return turreterr.Wrap(turreterr.HardwareError, err, "homing pan axis")
	}
	if err := c.tilt.Home(ctx); err != nil {
		return turreterr.Wrap(turreterr.HardwareError, err, "homing tilt axis")
	}
	c.mu.Lock()
	c.pidX.reset()
	c.pidY.reset()
	c.mu.Unlock()
	return nil
}

// SetHomeHere zeroes both axes' position without moving.
func (c *TrackingController) SetHomeHere() {
	c.pan.SetHomeHere()
	c.tilt.SetHomeHere()
}

// MoveBy requests a relative move, clamped to the configured travel limits,
// and enqueues it to the mover. Rejected with ModeDisabled in Crosshair.
func (c *TrackingController) MoveBy(dx, dy int64) error {
	if c.currentMode() == Crosshair {
		return turreterr.New(turreterr.ModeDisabled, "motion disabled in crosshair mode")
	}
	c.mu.Lock()
	targetX := clampInt64(c.pan.Position()+dx, c.calib.MaxStepsFromHomeX)
	targetY := clampInt64(c.tilt.Position()+dy, c.calib.MaxStepsFromHomeY)
	if c.mode == CameraIdle {
		c.mode = CameraTracking
	}
	c.mu.Unlock()

	c.enqueue(moveRequest{kind: kindManual, targetPanX: targetX, targetTilY: targetY})
	return nil
}

// CenterOnPixel converts a pixel offset from frame center into a step delta
// and forwards it to MoveBy, applying the dead zone independently per axis.
func (c *TrackingController) CenterOnPixel(px, py, frameW, frameH int) error {
	c.mu.Lock()
	calib := c.calib
	c.mu.Unlock()

	offX := float64(px) - float64(frameW)/2
	offY := float64(py) - float64(frameH)/2

	var dx, dy int64
	if math.Abs(offX) > calib.DeadZonePixels {
		dx = int64(math.Round(offX * calib.XStepsPerPixel))
	}
	if math.Abs(offY) > calib.DeadZonePixels {
		dy = int64(math.Round(offY * calib.YStepsPerPixel))
	}
	return c.MoveBy(dx, dy)
}

// TrackTarget runs the per-axis PID loop against a detector-sourced
// centroid (spec.md §4.3 "Algorithm — PID tracking").
func (c *TrackingController) TrackTarget(cx, cy, frameW, frameH int, ts time.Time) error {
	if c.currentMode() == Crosshair {
		return turreterr.New(turreterr.ModeDisabled, "tracking disabled in crosshair mode")
	}

	c.mu.Lock()
	calib := c.calib
	if c.mode == CameraIdle {
		c.mode = CameraTracking
	}
	c.lastTargetTS = ts
	c.hasTracked = true

	errX := float64(cx) - float64(frameW)/2
	errY := float64(cy) - float64(frameH)/2

	deltaX := c.pidStep(&c.pidX, errX, calib.DeadZonePixels, calib.KP, calib.KI, calib.KD, calib.MaxStepsFromHomeX, ts)
	deltaY := c.pidStep(&c.pidY, errY, calib.DeadZonePixels, calib.KP, calib.KI, calib.KD, calib.MaxStepsFromHomeY, ts)

	targetX := clampInt64(c.pan.Position()+int64(math.Round(deltaX*calib.XStepsPerPixel)), calib.MaxStepsFromHomeX)
	targetY := clampInt64(c.tilt.Position()+int64(math.Round(deltaY*calib.YStepsPerPixel)), calib.MaxStepsFromHomeY)
	c.mu.Unlock()

	c.enqueue(moveRequest{kind: kindTracking, targetPanX: targetX, targetTilY: targetY})
	return nil
}

// pidStep must be called with c.mu held. It computes the pixel-space PID
// output for one axis and returns it (not yet converted to steps).
func (c *TrackingController) pidStep(p *pidState, e, deadZone, kp, ki, kd float64, maxSteps int64, ts time.Time) float64 {
	if math.Abs(e) <= deadZone {
		e = 0
		p.integral = 0
	}

	var dt time.Duration
	derivativeZero := true
	if p.hasSample {
		dt = ts.Sub(p.lastTS)
		if dt < time.Millisecond {
			dt = time.Millisecond
		}
		if dt > 200*time.Millisecond {
			dt = 200 * time.Millisecond
		} else {
			derivativeZero = false
		}
	} else {
		dt = time.Millisecond
	}
	dtSeconds := dt.Seconds()

	p.integral += e * dtSeconds
	if ki > 0 && kp > 0 {
		iMax := float64(maxSteps) / kp
		p.integral = clampFloat(p.integral, -iMax, iMax)
	} else if ki == 0 {
		p.integral = 0
	}

	derivative := 0.0
	if !derivativeZero {
		derivative = (e - p.lastErr) / dtSeconds
	}

	u := kp*e + ki*p.integral + kd*derivative

	p.lastErr = e
	p.lastTS = ts
	p.hasSample = true

	return u
}

// CalibrateAxis updates steps_per_pixel for the named axis from an
// observed move (spec.md §4.3 calibrate_axis).
func (c *TrackingController) CalibrateAxis(axis string, pixelsMoved float64, stepsExecuted int64) error {
	if pixelsMoved == 0 {
		return turreterr.New(turreterr.InvalidArgument, "pixels_moved must not be zero")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ratio := float64(stepsExecuted) / pixelsMoved
	switch axis {
	case "x", "pan":
		c.calib.XStepsPerPixel = ratio
	case "y", "tilt":
		c.calib.YStepsPerPixel = ratio
	default:
		return turreterr.New(turreterr.InvalidArgument, "unknown axis %q", axis)
	}
	return nil
}

// SetPID sets the shared PID gains, rejecting negative values.
func (c *TrackingController) SetPID(kp, ki, kd float64) error {
	if kp < 0 || ki < 0 || kd < 0 {
		return turreterr.New(turreterr.InvalidArgument, "PID gains must be non-negative")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calib.KP, c.calib.KI, c.calib.KD = kp, ki, kd
	return nil
}

// GetPID returns the shared PID gains.
func (c *TrackingController) GetPID() (kp, ki, kd float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calib.KP, c.calib.KI, c.calib.KD
}

// LastTargetAge returns time since the last successful TrackTarget call.
func (c *TrackingController) LastTargetAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasTracked {
		return 0
	}
	return time.Since(c.lastTargetTS)
}

// Calibration returns a copy of the current calibration blob.
func (c *TrackingController) Calibration() Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calib
}

// ReplaceCalibration installs a full calibration blob, e.g. loaded from
// internal/calibstore at startup.
func (c *TrackingController) ReplaceCalibration(calib Calibration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calib = calib
}

// Snapshot returns the read-only state surfaced to telemetry.
func (c *TrackingController) Snapshot() Snapshot {
	c.mu.Lock()
	mode := c.mode
	calib := c.calib
	c.mu.Unlock()
	return Snapshot{
		Mode:           mode,
		Pan:            axisSnapshot("pan", c.pan),
		Tilt:           axisSnapshot("tilt", c.tilt),
		Calibration:    calib,
		LastTargetAge:  c.LastTargetAge(),
		HasTrackedOnce: c.hasTracked,
	}
}

func axisSnapshot(name string, axis *stepper.StepperAxis) AxisSnapshot {
	snap := AxisSnapshot{Name: name, Position: axis.Position(), Status: axis.Status().String()}
	if kind, inError := axis.LastError(); inError {
		snap.LastError = string(kind)
	}
	return snap
}

func (c *TrackingController) enqueue(req moveRequest) {
	c.moverMu.Lock()
	c.pending[req.kind] = req
	c.moverMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// moverLoop is the single-threaded cooperative loop that owns all step
// emission: it never interrupts an in-flight move, and coalesces newer
// same-kind requests that arrive while one is in flight (spec.md §4.3
// "Mover task").
func (c *TrackingController) moverLoop() {
	defer close(c.stopped)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			c.drainPending()
		case <-ticker.C:
			c.drainPending()
		}
	}
}

func (c *TrackingController) drainPending() {
	for {
		req, ok := c.popPending()
		if !ok {
			return
		}
		c.applyMove(req)
	}
}

func (c *TrackingController) popPending() (moveRequest, bool) {
	c.moverMu.Lock()
	defer c.moverMu.Unlock()
	for kind, req := range c.pending {
		delete(c.pending, kind)
		return req, true
	}
	return moveRequest{}, false
}

func (c *TrackingController) applyMove(req moveRequest) {
	ctx := context.Background()
	if dx := req.targetPanX - c.pan.Position(); dx != 0 {
		dir := stepper.CW
		if dx < 0 {
			dir = stepper.CCW
			dx = -dx
		}
		if _, err := c.pan.Step(ctx, dir, int(dx), 0); err != nil {
			c.log.Debug("pan move stopped early", zap.Error(err))
		}
	}
	if dy := req.targetTilY - c.tilt.Position(); dy != 0 {
		dir := stepper.CW
		if dy < 0 {
			dir = stepper.CCW
			dy = -dy
		}
		if _, err := c.tilt.Step(ctx, dir, int(dy), 0); err != nil {
			c.log.Debug("tilt move stopped early", zap.Error(err))
		}
	}
}

// lossWatchLoop enqueues recentering moves when no TrackTarget call has
// arrived within loss_timeout (spec.md §4.3 "Target loss").
func (c *TrackingController) lossWatchLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.checkLoss()
		}
	}
}

func (c *TrackingController) checkLoss() {
	c.mu.Lock()
	mode := c.mode
	hasTracked := c.hasTracked
	age := time.Since(c.lastTargetTS)
	calib := c.calib
	c.mu.Unlock()

	if mode != CameraTracking || !hasTracked || age < c.lossTimeout {
		return
	}
	if !calib.RecenterOnLoss {
		return
	}

	c.mu.Lock()
	c.pidX.reset()
	c.pidY.reset()
	c.mu.Unlock()

	rate := calib.HomeRecenterRateStepsPerTick
	if rate <= 0 {
		rate = 1
	}
	targetX := stepToward(c.pan.Position(), 0, rate)
	targetY := stepToward(c.tilt.Position(), 0, rate)
	c.enqueue(moveRequest{kind: kindRecenter, targetPanX: targetX, targetTilY: targetY})
}

func stepToward(current, target, rate int64) int64 {
	if current == target {
		return current
	}
	if current > target {
		next := current - rate
		if next < target {
			next = target
		}
		return next
	}
	next := current + rate
	if next > target {
		next = target
	}
	return next
}

func clampInt64(v, bound int64) int64 {
	if bound < 0 {
		bound = -bound
	}
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
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
