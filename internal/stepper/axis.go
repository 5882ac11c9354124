// Package stepper drives one pan or tilt stepper axis: step/dir/enable
// pulse generation with a trapezoidal speed profile, limit-switch
// interlocks, and homing (spec.md §4.2).
package stepper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

const stepPulseWidth = 2 * time.Microsecond
const dirSetupDelay = 2 * time.Microsecond

// StepperAxis generates step pulses for one motor, honoring limit switches.
// It does not bound travel from home: Step emits whatever count it is
// given, and the tracking controller clamps its targets before calling
// it. All public operations serialize on the
// axis mutex; callers (the tracking controller's mover) are expected to
// call them from a single goroutine per axis, but the mutex makes that a
// safety net rather than a strict requirement.
type StepperAxis struct {
	cfg  AxisConfig
	gpio hal.GPIO

	mu             sync.Mutex
	position       int64
	status         Status
	lastDirection  Direction
	triggeredLimit Direction // 0 = none
	lastErrKind    turreterr.Kind

	// Set from the (non-blocking) edge handler; read by the step loop.
	cwLimit  atomic.Bool
	ccwLimit atomic.Bool
}

// NewStepperAxis validates cfg, configures the axis's GPIO pins, and wires
// debounced limit-switch watchers.
func NewStepperAxis(gpio hal.GPIO, cfg AxisConfig) (*StepperAxis, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	a := &StepperAxis{cfg: cfg, gpio: gpio, status: Idle}

	if err := gpio.Configure(cfg.StepPin, hal.DirOutput, hal.PullNone); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "configuring step pin")
	}
	if err := gpio.Configure(cfg.DirPin, hal.DirOutput, hal.PullNone); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "configuring dir pin")
	}
	if err := gpio.Configure(cfg.EnablePin, hal.DirOutput, hal.PullNone); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "configuring enable pin")
	}
	if err := gpio.Configure(cfg.CWLimitPin, hal.DirInput, hal.PullUp); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "configuring CW limit pin")
	}
	if err := gpio.Configure(cfg.CCWLimitPin, hal.DirInput, hal.PullUp); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "configuring CCW limit pin")
	}
	for _, pin := range cfg.MicrostepPins {
		if err := gpio.Configure(pin, hal.DirOutput, hal.PullNone); err != nil {
			return nil, turreterr.Wrap(turreterr.HardwareError, err, "configuring microstep pin %d", pin)
		}
	}

	// Limit switches are active-low; the line going low is the trigger.
	if err := gpio.Watch(cfg.CWLimitPin, hal.EdgeFalling, a.onCWLimit); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "watching CW limit pin")
	}
	if err := gpio.Watch(cfg.CCWLimitPin, hal.EdgeFalling, a.onCCWLimit); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "watching CCW limit pin")
	}

	return a, nil
}

func validateConfig(cfg AxisConfig) error {
	if cfg.StepsPerRev <= 0 {
		return turreterr.New(turreterr.InvalidConfig, "steps_per_rev must be positive")
	}
	switch cfg.Microsteps {
	case 1, 2, 4, 8, 16:
	default:
		return turreterr.New(turreterr.InvalidConfig, "microsteps must be one of 1,2,4,8,16, got %d", cfg.Microsteps)
	}
	if cfg.MinStepDelay <= 0 {
		return turreterr.New(turreterr.InvalidConfig, "min_step_delay must be positive")
	}
	if cfg.AccelerationSteps < 0 {
		return turreterr.New(turreterr.InvalidConfig, "acceleration_steps must be non-negative")
	}
	return nil
}

// onCWLimit and onCCWLimit are the GPIO edge handlers: they set the
// direction's atomic limit flag, record the triggered limit and move an
// idle or moving axis to LimitReached under the axis mutex, then return.
func (a *StepperAxis) onCWLimit(_ int, _ bool) {
	a.cwLimit.Store(true)
	a.mu.Lock()
	a.triggeredLimit = CW
	if a.status == Moving || a.status == Idle {
		a.status = LimitReached
	}
	a.mu.Unlock()
}

func (a *StepperAxis) onCCWLimit(_ int, _ bool) {
	a.ccwLimit.Store(true)
	a.mu.Lock()
	a.triggeredLimit = CCW
	if a.status == Moving || a.status == Idle {
		a.status = LimitReached
	}
	a.mu.Unlock()
}

func (a *StepperAxis) limitFlag(dir Direction) *atomic.Bool {
	if dir == CW {
		return &a.cwLimit
	}
	return &a.ccwLimit
}

// Step emits up to count step pulses in dir, honoring limit switches,
// cancellation, and the trapezoidal speed profile (spec.md §4.2 algorithm).
func (a *StepperAxis) Step(ctx context.Context, dir Direction, count int, minDelay time.Duration) (StepOutcome, error) {
	if count < 0 {
		return StepOutcome{}, turreterr.New(turreterr.InvalidArgument, "step count must not be negative")
	}
	if minDelay <= 0 {
		minDelay = a.cfg.MinStepDelay
	}

	a.mu.Lock()
	if a.limitFlag(dir).Load() {
		a.mu.Unlock()
		return StepOutcome{StepsEmitted: 0, TerminatedBy: LimitHit}, turreterr.New(turreterr.LimitBlocked, "%s limit is triggered", dir)
	}
	// A step in the opposite direction clears the previously triggered limit.
	if a.triggeredLimit == dir.Opposite() {
		a.triggeredLimit = 0
		a.limitFlag(dir.Opposite()).Store(false)
	}
	a.status = Moving
	a.lastDirection = dir
	a.mu.Unlock()

	if err := a.gpio.Write(a.cfg.DirPin, dir == CW); err != nil {
		a.failSafe()
		return StepOutcome{}, turreterr.Wrap(turreterr.HardwareError, err, "writing direction pin")
	}
	time.Sleep(dirSetupDelay)

	emitted := 0
	outcome := Completed
	stepTimeout := minDelay * 50

	for i := 0; i < count; i++ {
		if a.limitFlag(dir).Load() {
			outcome = LimitHit
			break
		}
		select {
		case <-ctx.Done():
			outcome = Cancelled
		default:
		}
		if outcome == Cancelled {
			break
		}

		delay := stepDelay(i, count, a.cfg.AccelerationSteps, minDelay)

		start := time.Now()
		if err := a.emitPulse(delay); err != nil {
			a.failSafe()
			return StepOutcome{StepsEmitted: emitted, TerminatedBy: Failed},
				turreterr.Wrap(turreterr.HardwareError, err, "emitting step pulse")
		}
		if time.Since(start) > stepTimeout {
			a.mu.Lock()
			a.status = ErrorState
			a.lastErrKind = turreterr.Timeout
			a.mu.Unlock()
			a.Release()
			return StepOutcome{StepsEmitted: emitted, TerminatedBy: Failed}, turreterr.New(turreterr.Timeout, "step exceeded %s", stepTimeout)
		}

		a.mu.Lock()
		if dir == CW {
			a.position++
		} else {
			a.position--
		}
		a.mu.Unlock()
		emitted++
	}

	a.mu.Lock()
	if outcome == Completed && a.limitFlag(dir).Load() {
		outcome = LimitHit
	}
	if outcome == LimitHit {
		a.status = LimitReached
	} else {
		a.status = Idle
	}
	a.mu.Unlock()

	var err error
	if outcome == Cancelled {
		err = turreterr.New(turreterr.Cancelled, "step cancelled")
	}
	return StepOutcome{StepsEmitted: emitted, TerminatedBy: outcome}, err
}

func (a *StepperAxis) emitPulse(delay time.Duration) error {
	if err := a.gpio.Write(a.cfg.StepPin, true); err != nil {
		return err
	}
	time.Sleep(stepPulseWidth)
	if err := a.gpio.Write(a.cfg.StepPin, false); err != nil {
		return err
	}
	remaining := delay - stepPulseWidth
	if remaining > 0 {
		time.Sleep(remaining)
	}
	return nil
}

// failSafe drives the enable pin inactive after a hardware error, leaving
// the axis in a safe state.
func (a *StepperAxis) failSafe() {
	a.mu.Lock()
	a.status = ErrorState
	a.lastErrKind = turreterr.HardwareError
	a.mu.Unlock()
	_ = a.Release()
}

// Home drives CCW until the CCW limit triggers, backs off, then counts
// steps CW until the CW limit triggers, and centers at total_travel/2
// (spec.md §4.2).
func (a *StepperAxis) Home(ctx context.Context) error {
	a.mu.Lock()
	a.status = Homing
	a.mu.Unlock()

	timeout := a.cfg.HomeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.ccwLimit.Store(false)
	a.cwLimit.Store(false)
	a.mu.Lock()
	a.triggeredLimit = 0
	a.mu.Unlock()

	// Drive CCW in a bounded sweep until the limit fires.
	const sweepChunk = 50000
	if _, err := a.Step(hctx, CCW, sweepChunk, a.cfg.MinStepDelay); err != nil {
		if hctx.Err() != nil {
			a.homeFail(turreterr.Timeout, "homing CCW sweep timed out")
			return turreterr.New(turreterr.Timeout, "home: CCW sweep timed out")
		}
	}
	if !a.ccwLimit.Load() {
		a.homeFail(turreterr.HardwareError, "CCW limit never triggered")
		return turreterr.New(turreterr.HardwareError, "home: CCW limit never triggered")
	}

	if a.cfg.BackoffSteps > 0 {
		if _, err := a.Step(hctx, CW, a.cfg.BackoffSteps, a.cfg.MinStepDelay); err != nil && hctx.Err() != nil {
			a.homeFail(turreterr.Timeout, "homing backoff timed out")
			return turreterr.New(turreterr.Timeout, "home: backoff timed out")
		}
	}

	// Count steps CW until the CW limit fires.
	traveled := 0
	const chunk = 1000
	for {
		select {
		case <-hctx.Done():
			a.homeFail(turreterr.Timeout, "homing CW sweep timed out")
			return turreterr.New(turreterr.Timeout, "home: CW sweep timed out")
		default:
		}
		outcome, err := a.Step(hctx, CW, chunk, a.cfg.MinStepDelay)
		traveled += outcome.StepsEmitted
		if outcome.TerminatedBy == LimitHit {
			break
		}
		if err != nil && outcome.TerminatedBy != Completed {
			a.homeFail(turreterr.HardwareError, "homing CW sweep failed")
			return err
		}
		if outcome.StepsEmitted == 0 {
			a.homeFail(turreterr.HardwareError, "CW limit never triggered")
			return turreterr.New(turreterr.HardwareError, "home: CW limit never triggered")
		}
	}

	totalTravel := traveled + a.cfg.BackoffSteps
	center := totalTravel / 2
	if _, err := a.Step(hctx, CCW, center, a.cfg.MinStepDelay); err != nil && hctx.Err() != nil {
		a.homeFail(turreterr.Timeout, "homing center move timed out")
		return turreterr.New(turreterr.Timeout, "home: center move timed out")
	}

	a.mu.Lock()
	a.position = 0
	a.status = Idle
	a.mu.Unlock()
	return nil
}

func (a *StepperAxis) homeFail(kind turreterr.Kind, msg string) {
	a.mu.Lock()
	a.status = ErrorState
	a.lastErrKind = kind
	a.mu.Unlock()
	_ = a.Release()
}

// SetHomeHere zeroes position without moving.
func (a *StepperAxis) SetHomeHere() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = 0
}

// Release drives the enable pin to its inactive (active-low driver means
// "high") level.
func (a *StepperAxis) Release() error {
	return a.gpio.Write(a.cfg.EnablePin, true)
}

// Enable drives the enable pin active.
func (a *StepperAxis) Enable() error {
	return a.gpio.Write(a.cfg.EnablePin, false)
}

// Position returns the current step-accounted position.
func (a *StepperAxis) Position() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

// Status returns the axis's current status.
func (a *StepperAxis) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// LastError returns the kind of the most recent error-state transition,
// and whether the axis is currently in an error state.
func (a *StepperAxis) LastError() (turreterr.Kind, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErrKind, a.status == ErrorState
}

// Config returns the axis's immutable configuration.
func (a *StepperAxis) Config() AxisConfig { return a.cfg }
