package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/edgeturret/turretcore/internal/arbiter"
)

func TestNewJoystickSubscriber_DefaultsRateLimiterWhenUnset(t *testing.T) {
	a, _ := newTestArbiter(t)
	s := NewJoystickSubscriber(MQTTConfig{Broker: "tcp://localhost:1883", JoystickTopic: "turret/joystick"}, arbiter.JoystickConfig{}, a, zap.NewNop())
	assert.InDelta(t, 50, float64(s.limiter.Limit()), 0.01)
}

func TestNewJoystickSubscriber_HonorsConfiguredFrameRate(t *testing.T) {
	a, _ := newTestArbiter(t)
	s := NewJoystickSubscriber(MQTTConfig{
		Broker: "tcp://localhost:1883", JoystickTopic: "turret/joystick",
		MaxFramesPerSecond: 10,
	}, arbiter.JoystickConfig{}, a, zap.NewNop())
	assert.InDelta(t, 10, float64(s.limiter.Limit()), 0.01)
}

func TestStop_NoopWhenNeverStarted(t *testing.T) {
	a, _ := newTestArbiter(t)
	s := NewJoystickSubscriber(MQTTConfig{Broker: "tcp://localhost:1883", JoystickTopic: "x"}, arbiter.JoystickConfig{}, a, zap.NewNop())
	assert.NotPanics(t, func() { s.Stop() })
}

func TestLimiter_DropsFramesBeyondRateLimit(t *testing.T) {
	a, _ := newTestArbiter(t)
	s := NewJoystickSubscriber(MQTTConfig{
		Broker: "tcp://localhost:1883", JoystickTopic: "x",
		MaxFramesPerSecond: 1,
	}, arbiter.JoystickConfig{Deadzone: 5, SpeedScaling: 0.1, MaxStepsPerUpdate: 50}, a, zap.NewNop())

	assert.True(t, s.limiter.Allow())
	assert.False(t, s.limiter.Allow())
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, s.limiter.Allow())
}
