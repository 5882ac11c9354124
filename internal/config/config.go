// Package config loads turretd's configuration via viper: a YAML file plus
// TURRET_-prefixed environment overrides, with fatal-at-startup validation
// of pin uniqueness and BCM range (spec.md §6).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/edgeturret/turretcore/internal/turreterr"
)

// maxBCMPin is the highest valid BCM GPIO number on the supported boards
// (Raspberry Pi 40-pin header tops out at GPIO27).
const maxBCMPin = 27

// Config is the full turretd configuration (spec.md §6 "External
// Interfaces / Configuration").
type Config struct {
	GPIO     GPIOConfig     `mapstructure:"gpio"`
	Motor    MotorConfig    `mapstructure:"motor"`
	Control  ControlConfig  `mapstructure:"control"`
	Laser    LaserConfig    `mapstructure:"laser"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Operator OperatorConfig `mapstructure:"operator"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Calib    CalibConfig    `mapstructure:"calibration"`
}

// GPIOConfig names the limit-switch pins per axis; step/dir/enable pins
// live under MotorConfig since they are driver-specific.
type GPIOConfig struct {
	PanCWLimitPin   int `mapstructure:"pan_cw_limit_pin"`
	PanCCWLimitPin  int `mapstructure:"pan_ccw_limit_pin"`
	TiltCWLimitPin  int `mapstructure:"tilt_cw_limit_pin"`
	TiltCCWLimitPin int `mapstructure:"tilt_ccw_limit_pin"`
}

// AxisMotorConfig is one axis's driver wiring.
type AxisMotorConfig struct {
	StepPin       int   `mapstructure:"step_pin"`
	DirPin        int   `mapstructure:"dir_pin"`
	EnablePin     int   `mapstructure:"enable_pin"`
	MicrostepPins []int `mapstructure:"microstep_pins"`
}

// MotorConfig covers both axes' stepper driver wiring and shared motion
// parameters.
type MotorConfig struct {
	Pan             AxisMotorConfig `mapstructure:"pan"`
	Tilt            AxisMotorConfig `mapstructure:"tilt"`
	Microsteps      int             `mapstructure:"microsteps"`
	StepsPerRev     int             `mapstructure:"steps_per_rev"`
	BackoffSteps    int             `mapstructure:"backoff_steps"`
	HomeTimeoutSec  float64         `mapstructure:"home_timeout_sec"`
}

// ControlConfig covers joystick shaping and timing parameters.
type ControlConfig struct {
	MaxStepsPerUpdate int64   `mapstructure:"max_steps_per_update"`
	Deadzone          float64 `mapstructure:"deadzone"`
	SpeedScaling      float64 `mapstructure:"speed_scaling"`
	StepDelaySec      float64 `mapstructure:"step_delay_sec"`
	IdleTimeoutSec    float64 `mapstructure:"idle_timeout_sec"`
	AccelerationSteps int     `mapstructure:"acceleration_steps"`
}

// LaserConfig covers the laser's PWM pin and safety defaults.
type LaserConfig struct {
	Pin                int     `mapstructure:"pin"`
	FreqHz             int     `mapstructure:"freq_hz"`
	MaxPowerPct        int     `mapstructure:"max_power_pct"`
	DefaultCooldownSec float64 `mapstructure:"default_cooldown_sec"`
	DefaultPulseMs     int     `mapstructure:"default_pulse_ms"`
}

// TrackingConfig seeds the default calibration blob when none is persisted
// yet (spec.md §6 "Persisted state": "Absent file -> defaults from
// config.").
type TrackingConfig struct {
	DeadZonePixels    float64 `mapstructure:"dead_zone_pixels"`
	XStepsPerPixel    float64 `mapstructure:"x_steps_per_pixel"`
	YStepsPerPixel    float64 `mapstructure:"y_steps_per_pixel"`
	MaxStepsFromHomeX int64   `mapstructure:"max_steps_from_home_x"`
	MaxStepsFromHomeY int64   `mapstructure:"max_steps_from_home_y"`
	KP                float64 `mapstructure:"kp"`
	KI                float64 `mapstructure:"ki"`
	KD                float64 `mapstructure:"kd"`
	RecenterOnLoss    bool    `mapstructure:"recenter_on_loss"`
	HomeRecenterRate  int64   `mapstructure:"home_recenter_rate_steps_per_tick"`
}

// LoggerConfig controls zap/lumberjack output.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// OperatorConfig is the operator HTTP/WebSocket surface binding.
type OperatorConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// IngestConfig is the MQTT joystick ingestor's broker binding.
type IngestConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	Topic     string `mapstructure:"topic"`
	ClientID  string `mapstructure:"client_id"`
}

// CalibConfig is where the calibration blob is persisted.
type CalibConfig struct {
	Path             string  `mapstructure:"path"`
	AutosaveInterval float64 `mapstructure:"autosave_interval_sec"`
}

// HomeTimeout returns Motor.HomeTimeoutSec as a Duration.
func (c MotorConfig) HomeTimeout() time.Duration {
	return time.Duration(c.HomeTimeoutSec * float64(time.Second))
}

// StepDelay returns Control.StepDelaySec as a Duration.
func (c ControlConfig) StepDelay() time.Duration {
	return time.Duration(c.StepDelaySec * float64(time.Second))
}

// IdleTimeout returns Control.IdleTimeoutSec as a Duration.
func (c ControlConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec * float64(time.Second))
}

// DefaultCooldown returns Laser.DefaultCooldownSec as a Duration.
func (c LaserConfig) DefaultCooldown() time.Duration {
	return time.Duration(c.DefaultCooldownSec * float64(time.Second))
}

// Load reads turretd's configuration from configPath (or the default
// search locations when empty), applies TURRET_-prefixed environment
// overrides, and validates it. Validation errors are fatal at startup
// (spec.md §6).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("turretd")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, turreterr.Wrap(turreterr.InvalidConfig, err, "reading config file")
		}
	}

	v.SetEnvPrefix("TURRET")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, turreterr.Wrap(turreterr.InvalidConfig, err, "unmarshaling config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gpio.pan_cw_limit_pin", 5)
	v.SetDefault("gpio.pan_ccw_limit_pin", 6)
	v.SetDefault("gpio.tilt_cw_limit_pin", 13)
	v.SetDefault("gpio.tilt_ccw_limit_pin", 19)

	v.SetDefault("motor.pan.step_pin", 17)
	v.SetDefault("motor.pan.dir_pin", 27)
	v.SetDefault("motor.pan.enable_pin", 22)
	v.SetDefault("motor.tilt.step_pin", 23)
	v.SetDefault("motor.tilt.dir_pin", 24)
	v.SetDefault("motor.tilt.enable_pin", 25)
	v.SetDefault("motor.microsteps", 8)
	v.SetDefault("motor.steps_per_rev", 200)
	v.SetDefault("motor.backoff_steps", 50)
	v.SetDefault("motor.home_timeout_sec", 30.0)

	v.SetDefault("control.max_steps_per_update", 20)
	v.SetDefault("control.deadzone", 10.0)
	v.SetDefault("control.speed_scaling", 0.5)
	v.SetDefault("control.step_delay_sec", 0.0008)
	v.SetDefault("control.idle_timeout_sec", 120.0)
	v.SetDefault("control.acceleration_steps", 40)

	v.SetDefault("laser.pin", 26)
	v.SetDefault("laser.freq_hz", 1000)
	v.SetDefault("laser.max_power_pct", 80)
	v.SetDefault("laser.default_cooldown_sec", 1.0)
	v.SetDefault("laser.default_pulse_ms", 200)

	v.SetDefault("tracking.dead_zone_pixels", 6.0)
	v.SetDefault("tracking.x_steps_per_pixel", 4.0)
	v.SetDefault("tracking.y_steps_per_pixel", 4.0)
	v.SetDefault("tracking.max_steps_from_home_x", 4000)
	v.SetDefault("tracking.max_steps_from_home_y", 2000)
	v.SetDefault("tracking.kp", 0.6)
	v.SetDefault("tracking.ki", 0.05)
	v.SetDefault("tracking.kd", 0.1)
	v.SetDefault("tracking.recenter_on_loss", true)
	v.SetDefault("tracking.home_recenter_rate_steps_per_tick", 4)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file_path", "./logs/turretd.log")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("operator.host", "0.0.0.0")
	v.SetDefault("operator.port", 8088)

	v.SetDefault("ingest.broker_url", "tcp://localhost:1883")
	v.SetDefault("ingest.topic", "turret/joystick")
	v.SetDefault("ingest.client_id", "turretd")

	v.SetDefault("calibration.path", "./data/calibration.yaml")
	v.SetDefault("calibration.autosave_interval_sec", 30.0)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".turretcore")
}
