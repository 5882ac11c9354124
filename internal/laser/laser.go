// Package laser implements the turret's PWM laser output and its safety
// interlocks: arming, cooldown, and fire/burst sequencing (spec.md §4.4).
package laser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

// State is the read-only snapshot of the laser's safety state, returned by
// Status and mirrored into telemetry.
type State struct {
	Armed         bool
	PowerPct      int
	IsOn          bool
	FireCount     uint64
	CooldownUntil time.Time
}

// Config is the static laser configuration ingested at startup (spec.md
// §6 "Laser").
type Config struct {
	Pin                int
	FreqHz             int
	MaxPowerPct        int
	DefaultCooldown    time.Duration
	DefaultPulseDur    time.Duration
}

// SafetyController owns the laser's PWM channel and enforces that every
// exit path from fire/burst leaves duty at zero (spec.md §4.4 "Failure
// semantics").
type SafetyController struct {
	cfg Config
	pwm hal.PWM

	mu            sync.Mutex
	armed         bool
	powerPct      int
	isOn          bool
	fireCount     uint64
	cooldownUntil time.Time

	busy atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewSafetyController opens the laser's PWM channel and returns a disarmed
// controller.
func NewSafetyController(gpio hal.GPIO, cfg Config) (*SafetyController, error) {
	if cfg.MaxPowerPct <= 0 || cfg.MaxPowerPct > 100 {
		return nil, turreterr.New(turreterr.InvalidConfig, "max_power_pct must be in (0,100], got %d", cfg.MaxPowerPct)
	}
	pwm, err := gpio.PWMOpen(cfg.Pin, cfg.FreqHz)
	if err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "opening laser PWM channel")
	}
	if err := pwm.Start(0); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "starting laser PWM at zero duty")
	}
	initialPower := cfg.MaxPowerPct
	if initialPower > 100 {
		initialPower = 100
	}
	return &SafetyController{cfg: cfg, pwm: pwm, powerPct: initialPower}, nil
}

// Arm toggles the armed state. Disarming forces power to zero and cancels
// any in-flight burst or fire.
func (c *SafetyController) Arm(armed bool) error {
	c.mu.Lock()
	c.armed = armed
	c.mu.Unlock()

	if !armed {
		c.cancelInFlight()
		if err := c.pwm.SetDuty(0); err != nil {
			return turreterr.Wrap(turreterr.HardwareError, err, "zeroing laser duty on disarm")
		}
		c.mu.Lock()
		c.isOn = false
		c.mu.Unlock()
	}
	return nil
}

// SetPower sets the commanded power, clamped to [0, max_power_pct].
func (c *SafetyController) SetPower(pct int) error {
	if pct < 0 {
		pct = 0
	}
	c.mu.Lock()
	if pct > c.cfg.MaxPowerPct {
		pct = c.cfg.MaxPowerPct
	}
	c.powerPct = pct
	c.mu.Unlock()
	return nil
}

// Fire drives duty to the current power level for duration, then returns
// to zero and starts the cooldown window. Rejected if disarmed, mid-burst,
// or within the cooldown window.
func (c *SafetyController) Fire(ctx context.Context, duration time.Duration) error {
	if err := c.beginExclusive(); err != nil {
		return err
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	armed := c.armed
	now := time.Now()
	if !armed {
		c.mu.Unlock()
		return turreterr.New(turreterr.Disarmed, "laser is disarmed")
	}
	if now.Before(c.cooldownUntil) {
		c.mu.Unlock()
		return turreterr.New(turreterr.Cooldown, "laser cooling down for %s", c.cooldownUntil.Sub(now))
	}
	power := c.powerPct
	c.mu.Unlock()

	fireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setCancel(cancel)
	defer c.setCancel(nil)

	return c.pulse(fireCtx, power, duration, true)
}

// Burst executes count fires separated by off gaps, with cooldown applied
// after the final on-cycle.
func (c *SafetyController) Burst(ctx context.Context, count int, onDur, offDur time.Duration) error {
	if count <= 0 {
		return turreterr.New(turreterr.InvalidArgument, "burst count must be positive")
	}
	if err := c.beginExclusive(); err != nil {
		return err
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	armed := c.armed
	now := time.Now()
	if !armed {
		c.mu.Unlock()
		return turreterr.New(turreterr.Disarmed, "laser is disarmed")
	}
	if now.Before(c.cooldownUntil) {
		c.mu.Unlock()
		return turreterr.New(turreterr.Cooldown, "laser cooling down for %s", c.cooldownUntil.Sub(now))
	}
	power := c.powerPct
	c.mu.Unlock()

	burstCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer c.setCancel(nil)

	for i := 0; i < count; i++ {
		last := i == count-1
		if err := c.pulse(burstCtx, power, onDur, last); err != nil {
			return err
		}
		if !last {
			select {
			case <-burstCtx.Done():
				return turreterr.New(turreterr.Cancelled, "burst cancelled")
			case <-time.After(offDur):
			}
		}
	}
	return nil
}

// pulse drives duty to power for dur, guaranteeing duty returns to zero on
// every exit path including cancellation. applyCooldown starts the
// cooldown window after the on-cycle (used for fire, and for a burst's
// final cycle).
func (c *SafetyController) pulse(ctx context.Context, power int, dur time.Duration, applyCooldown bool) error {
	if err := c.pwm.SetDuty(float64(power)); err != nil {
		return turreterr.Wrap(turreterr.HardwareError, err, "driving laser duty")
	}
	c.mu.Lock()
	c.isOn = true
	c.mu.Unlock()

	var pulseErr error
	select {
	case <-ctx.Done():
		pulseErr = turreterr.New(turreterr.Cancelled, "fire cancelled")
	case <-time.After(dur):
	}

	if err := c.pwm.SetDuty(0); err != nil {
		pulseErr = turreterr.Wrap(turreterr.HardwareError, err, "zeroing laser duty")
	}

	c.mu.Lock()
	c.isOn = false
	if pulseErr == nil {
		c.fireCount++
		if applyCooldown {
			c.cooldownUntil = time.Now().Add(c.cfg.DefaultCooldown)
		}
	}
	c.mu.Unlock()

	return pulseErr
}

func (c *SafetyController) beginExclusive() error {
	if !c.busy.CompareAndSwap(false, true) {
		return turreterr.New(turreterr.Busy, "laser is already firing")
	}
	return nil
}

func (c *SafetyController) setCancel(cancel context.CancelFunc) {
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
}

func (c *SafetyController) cancelInFlight() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns the full laser state.
func (c *SafetyController) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Armed:         c.armed,
		PowerPct:      c.powerPct,
		IsOn:          c.isOn,
		FireCount:     c.fireCount,
		CooldownUntil: c.cooldownUntil,
	}
}
