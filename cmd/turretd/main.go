// Command turretd is the turret motion and targeting core's process
// entry point: it wires configuration, hardware, the tracking and laser
// controllers, the command arbiter, remote ingest, and the operator
// surface together, then serves until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/arbiter"
	"github.com/edgeturret/turretcore/internal/calibstore"
	"github.com/edgeturret/turretcore/internal/config"
	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/ingest"
	"github.com/edgeturret/turretcore/internal/laser"
	"github.com/edgeturret/turretcore/internal/logger"
	"github.com/edgeturret/turretcore/internal/metrics"
	"github.com/edgeturret/turretcore/internal/operator"
	"github.com/edgeturret/turretcore/internal/stepper"
	"github.com/edgeturret/turretcore/internal/telemetry"
	"github.com/edgeturret/turretcore/internal/tracking"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to turretd.yaml (defaults to ./configs, ., ~/.turretcore)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "turretd: loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "turretd: initializing logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer logger.Sync()

	log.Info("turretd starting", zap.String("version", Version))

	initHAL(log)
	gpio, err := hal.Global()
	if err != nil {
		log.Fatal("GPIO backend not installed", zap.Error(err))
	}

	panAxis, tiltAxis, err := buildAxes(gpio, cfg)
	if err != nil {
		log.Fatal("building stepper axes", zap.Error(err))
	}

	calibStore, err := calibstore.New(cfg.Calib.Path)
	if err != nil {
		log.Fatal("initializing calibration store", zap.Error(err))
	}
	calib, err := calibStore.Load(defaultCalibration(cfg))
	if err != nil {
		log.Warn("loading calibration, using config defaults", zap.Error(err))
		calib = defaultCalibration(cfg)
	}

	trackingLog := logger.WithComponent("tracking")
	tc := tracking.NewTrackingController(panAxis, tiltAxis, calib, trackingLog)
	defer tc.Close()

	laserCfg := laser.Config{
		Pin:             cfg.Laser.Pin,
		FreqHz:          cfg.Laser.FreqHz,
		MaxPowerPct:     cfg.Laser.MaxPowerPct,
		DefaultCooldown: cfg.Laser.DefaultCooldown(),
		DefaultPulseDur: time.Duration(cfg.Laser.DefaultPulseMs) * time.Millisecond,
	}
	lc, err := laser.NewSafetyController(gpio, laserCfg)
	if err != nil {
		log.Fatal("initializing laser controller", zap.Error(err))
	}

	m := metrics.NewMetrics()

	arbiterLog := logger.WithComponent("arbiter")
	arb := arbiter.New(tc, lc, cfg.Control.IdleTimeout(), arbiterLog)
	arb.SetMetrics(m)
	defer arb.Close()

	pub := telemetry.NewPublisher(tc, lc, 500*time.Millisecond)
	defer pub.Close()

	opServer := operator.NewServer(arb, tc, calibStore, pub, m, logger.WithComponent("operator"))
	logger.SetBroadcaster(opServer.Hub().BroadcastLog)

	joystickCfg := arbiter.JoystickConfig{
		Deadzone:          cfg.Control.Deadzone,
		SpeedScaling:      cfg.Control.SpeedScaling,
		MaxStepsPerUpdate: cfg.Control.MaxStepsPerUpdate,
		DefaultFireMs:     cfg.Laser.DefaultPulseMs,
	}
	joystickSub := ingest.NewJoystickSubscriber(ingest.MQTTConfig{
		Broker:        cfg.Ingest.BrokerURL,
		JoystickTopic: cfg.Ingest.Topic,
		ClientID:      cfg.Ingest.ClientID,
	}, joystickCfg, arb, logger.WithComponent("ingest"))
	if err := joystickSub.Start(); err != nil {
		log.Warn("joystick subscriber failed to connect at startup, joystick input unavailable", zap.Error(err))
	}
	defer joystickSub.Stop()

	c := cron.New()
	if cfg.Calib.AutosaveInterval > 0 {
		spec := fmt.Sprintf("@every %gs", cfg.Calib.AutosaveInterval)
		if _, err := c.AddFunc(spec, func() {
			if err := calibStore.Save(tc.Calibration()); err != nil {
				log.Warn("calibration autosave failed", zap.Error(err))
			}
		}); err != nil {
			log.Warn("scheduling calibration autosave", zap.Error(err))
		}
		c.Start()
		defer c.Stop()
	}

	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			log.Info("turretd shutting down")
			if err := calibStore.Save(tc.Calibration()); err != nil {
				log.Warn("final calibration save failed", zap.Error(err))
			}
			_ = opServer.Shutdown()
			joystickSub.Stop()
			arb.Close()
			tc.Close()
			pub.Close()
			c.Stop()
			_ = gpio.Cleanup(allConfiguredPins(cfg))
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown()
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Operator.Host, cfg.Operator.Port)
	log.Info("operator surface listening", zap.String("addr", addr))
	if err := opServer.Listen(addr); err != nil {
		shutdown()
		log.Fatal("operator server stopped", zap.Error(err))
	}
}

func buildAxes(gpio hal.GPIO, cfg *config.Config) (*stepper.StepperAxis, *stepper.StepperAxis, error) {
	panCfg := stepper.AxisConfig{
		Name:              "pan",
		StepPin:           cfg.Motor.Pan.StepPin,
		DirPin:            cfg.Motor.Pan.DirPin,
		EnablePin:         cfg.Motor.Pan.EnablePin,
		CWLimitPin:        cfg.GPIO.PanCWLimitPin,
		CCWLimitPin:       cfg.GPIO.PanCCWLimitPin,
		MicrostepPins:     cfg.Motor.Pan.MicrostepPins,
		StepsPerRev:       cfg.Motor.StepsPerRev,
		Microsteps:        cfg.Motor.Microsteps,
		MinStepDelay:      cfg.Control.StepDelay(),
		AccelerationSteps: cfg.Control.AccelerationSteps,
		BackoffSteps:      cfg.Motor.BackoffSteps,
		HomeTimeout:       cfg.Motor.HomeTimeout(),
	}
	tiltCfg := panCfg
	tiltCfg.Name = "tilt"
	tiltCfg.StepPin = cfg.Motor.Tilt.StepPin
	tiltCfg.DirPin = cfg.Motor.Tilt.DirPin
	tiltCfg.EnablePin = cfg.Motor.Tilt.EnablePin
	tiltCfg.CWLimitPin = cfg.GPIO.TiltCWLimitPin
	tiltCfg.CCWLimitPin = cfg.GPIO.TiltCCWLimitPin
	tiltCfg.MicrostepPins = cfg.Motor.Tilt.MicrostepPins

	pan, err := stepper.NewStepperAxis(gpio, panCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pan axis: %w", err)
	}
	tilt, err := stepper.NewStepperAxis(gpio, tiltCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("tilt axis: %w", err)
	}
	return pan, tilt, nil
}

// allConfiguredPins lists every pin turretd drives, for a full teardown on
// shutdown (spec.md §5 "Process-wide state").
func allConfiguredPins(cfg *config.Config) []int {
	pins := []int{
		cfg.Motor.Pan.StepPin, cfg.Motor.Pan.DirPin, cfg.Motor.Pan.EnablePin,
		cfg.Motor.Tilt.StepPin, cfg.Motor.Tilt.DirPin, cfg.Motor.Tilt.EnablePin,
		cfg.GPIO.PanCWLimitPin, cfg.GPIO.PanCCWLimitPin,
		cfg.GPIO.TiltCWLimitPin, cfg.GPIO.TiltCCWLimitPin,
		cfg.Laser.Pin,
	}
	pins = append(pins, cfg.Motor.Pan.MicrostepPins...)
	pins = append(pins, cfg.Motor.Tilt.MicrostepPins...)
	return pins
}

func defaultCalibration(cfg *config.Config) tracking.Calibration {
	return tracking.Calibration{
		XStepsPerPixel:               cfg.Tracking.XStepsPerPixel,
		YStepsPerPixel:               cfg.Tracking.YStepsPerPixel,
		DeadZonePixels:               cfg.Tracking.DeadZonePixels,
		MaxStepsFromHomeX:            cfg.Tracking.MaxStepsFromHomeX,
		MaxStepsFromHomeY:            cfg.Tracking.MaxStepsFromHomeY,
		KP:                           cfg.Tracking.KP,
		KI:                           cfg.Tracking.KI,
		KD:                           cfg.Tracking.KD,
		RecenterOnLoss:               cfg.Tracking.RecenterOnLoss,
		HomeRecenterRateStepsPerTick: cfg.Tracking.HomeRecenterRate,
	}
}
