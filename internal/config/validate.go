package config

import (
	"fmt"

	"github.com/edgeturret/turretcore/internal/turreterr"
)

// Validate checks pin uniqueness, BCM range, and the value ranges called
// out in spec.md §3/§6. Every failure is InvalidConfig, which is fatal at
// startup.
func Validate(cfg *Config) error {
	pins := map[int]string{}
	add := func(pin int, owner string) error {
		if pin < 0 || pin > maxBCMPin {
			return turreterr.New(turreterr.InvalidConfig, "%s: pin %d out of BCM range [0,%d]", owner, pin, maxBCMPin)
		}
		if existing, ok := pins[pin]; ok {
			return turreterr.New(turreterr.InvalidConfig, "pin %d assigned to both %s and %s", pin, existing, owner)
		}
		pins[pin] = owner
		return nil
	}

	checks := []struct {
		pin   int
		owner string
	}{
		{cfg.GPIO.PanCWLimitPin, "gpio.pan_cw_limit_pin"},
		{cfg.GPIO.PanCCWLimitPin, "gpio.pan_ccw_limit_pin"},
		{cfg.GPIO.TiltCWLimitPin, "gpio.tilt_cw_limit_pin"},
		{cfg.GPIO.TiltCCWLimitPin, "gpio.tilt_ccw_limit_pin"},
		{cfg.Motor.Pan.StepPin, "motor.pan.step_pin"},
		{cfg.Motor.Pan.DirPin, "motor.pan.dir_pin"},
		{cfg.Motor.Pan.EnablePin, "motor.pan.enable_pin"},
		{cfg.Motor.Tilt.StepPin, "motor.tilt.step_pin"},
		{cfg.Motor.Tilt.DirPin, "motor.tilt.dir_pin"},
		{cfg.Motor.Tilt.EnablePin, "motor.tilt.enable_pin"},
		{cfg.Laser.Pin, "laser.pin"},
	}
	for _, c := range checks {
		if err := add(c.pin, c.owner); err != nil {
			return err
		}
	}
	for i, pin := range cfg.Motor.Pan.MicrostepPins {
		if err := add(pin, fmt.Sprintf("motor.pan.microstep_pins[%d]", i)); err != nil {
			return err
		}
	}
	for i, pin := range cfg.Motor.Tilt.MicrostepPins {
		if err := add(pin, fmt.Sprintf("motor.tilt.microstep_pins[%d]", i)); err != nil {
			return err
		}
	}

	switch cfg.Motor.Microsteps {
	case 1, 2, 4, 8, 16:
	default:
		return turreterr.New(turreterr.InvalidConfig, "motor.microsteps must be one of 1,2,4,8,16, got %d", cfg.Motor.Microsteps)
	}
	if cfg.Motor.StepsPerRev <= 0 {
		return turreterr.New(turreterr.InvalidConfig, "motor.steps_per_rev must be positive")
	}

	if cfg.Laser.MaxPowerPct <= 0 || cfg.Laser.MaxPowerPct > 100 {
		return turreterr.New(turreterr.InvalidConfig, "laser.max_power_pct must be in (0,100]")
	}

	if cfg.Tracking.XStepsPerPixel <= 0 || cfg.Tracking.YStepsPerPixel <= 0 {
		return turreterr.New(turreterr.InvalidConfig, "tracking steps_per_pixel values must be positive")
	}
	if cfg.Tracking.MaxStepsFromHomeX <= 0 || cfg.Tracking.MaxStepsFromHomeY <= 0 {
		return turreterr.New(turreterr.InvalidConfig, "tracking max_steps_from_home values must be positive")
	}
	if cfg.Tracking.KP < 0 || cfg.Tracking.KI < 0 || cfg.Tracking.KD < 0 {
		return turreterr.New(turreterr.InvalidConfig, "tracking PID gains must be non-negative")
	}

	return nil
}
