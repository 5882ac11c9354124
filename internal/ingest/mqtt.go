// Package ingest subscribes to the remote input surfaces (joystick CSV
// frames and detector bounding boxes) and forwards them into the command
// arbiter (spec.md §6 "Ingest").
package ingest

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/edgeturret/turretcore/internal/arbiter"
)

// MQTTConfig configures the joystick subscriber (spec.md §6 "Remote
// input transport").
type MQTTConfig struct {
	Broker        string
	JoystickTopic string
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	KeepAlive     time.Duration
	ConnectTimeout time.Duration
	// MaxFramesPerSecond caps how many joystick frames are forwarded to
	// the arbiter per second; excess frames are dropped rather than
	// queued, since only the latest stick position matters.
	MaxFramesPerSecond float64
}

// JoystickSubscriber connects to an MQTT broker and feeds decoded
// joystick frames to a CommandArbiter, reconnecting with exponential
// backoff on connection loss (grounded on the teacher's MQTT-in node and
// on this pack's dial-with-backoff idiom for flaky serial links).
type JoystickSubscriber struct {
	cfg    MQTTConfig
	jcfg   arbiter.JoystickConfig
	arb    *arbiter.CommandArbiter
	log    *zap.Logger
	client mqtt.Client
	limiter *rate.Limiter
}

// NewJoystickSubscriber builds a subscriber. Call Start to connect.
func NewJoystickSubscriber(cfg MQTTConfig, jcfg arbiter.JoystickConfig, arb *arbiter.CommandArbiter, log *zap.Logger) *JoystickSubscriber {
	fps := cfg.MaxFramesPerSecond
	if fps <= 0 {
		fps = 50
	}
	return &JoystickSubscriber{
		cfg:     cfg,
		jcfg:    jcfg,
		arb:     arb,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(fps), int(fps)),
	}
}

// Start connects to the broker and subscribes, retrying the initial dial
// with exponential backoff. It returns once the first connection attempt
// either succeeds or exhausts its backoff budget; reconnection after that
// point is handled by paho's own auto-reconnect plus our handlers.
func (s *JoystickSubscriber) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	clientID := s.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("turretd_%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	keepAlive := s.cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	connectTimeout := s.cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	opts.SetConnectTimeout(connectTimeout)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.log.Info("joystick subscriber connected", zap.String("broker", s.cfg.Broker))
		token := c.Subscribe(s.cfg.JoystickTopic, s.cfg.QoS, s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.log.Error("joystick subscribe failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		s.log.Warn("joystick subscriber lost connection", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)

	connectOp := func() error {
		token := s.client.Connect()
		token.Wait()
		return token.Error()
	}
	return backoff.Retry(connectOp, &backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Clock:               backoff.SystemClock,
	})
}

func (s *JoystickSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if !s.limiter.Allow() {
		return
	}
	s.arb.IngestJoystick(string(msg.Payload()), s.jcfg)
}

// Stop unsubscribes and disconnects. Idempotent with respect to a
// subscriber that was never started.
func (s *JoystickSubscriber) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.JoystickTopic)
		s.client.Disconnect(250)
	}
}
