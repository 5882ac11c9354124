package laser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeturret/turretcore/internal/hal"
	"github.com/edgeturret/turretcore/internal/turreterr"
)

func newTestController(t *testing.T) (*SafetyController, *hal.MockGPIO) {
	t.Helper()
	gpio := hal.NewMockGPIO()
	c, err := NewSafetyController(gpio, Config{
		Pin: 6, FreqHz: 2000, MaxPowerPct: 80,
		DefaultCooldown: 50 * time.Millisecond,
		DefaultPulseDur: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return c, gpio
}

func TestNewSafetyController_InitialPowerNeverExceedsMaxPowerPct(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, 80, c.Status().PowerPct)
}

func TestFire_RejectedWhenDisarmed(t *testing.T) {
	c, _ := newTestController(t)
	err := c.Fire(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
	kind, ok := turreterr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, turreterr.Disarmed, kind)
}

func TestFire_SucceedsWhenArmedAndIncrementsCount(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Arm(true))
	require.NoError(t, c.Fire(context.Background(), 5*time.Millisecond))
	assert.EqualValues(t, 1, c.Status().FireCount)
	assert.False(t, c.Status().IsOn)
}

func TestFire_RejectedDuringCooldown(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Arm(true))
	require.NoError(t, c.Fire(context.Background(), 2*time.Millisecond))

	err := c.Fire(context.Background(), 2*time.Millisecond)
	require.Error(t, err)
	kind, _ := turreterr.KindOf(err)
	assert.Equal(t, turreterr.Cooldown, kind)
}

func TestFire_RejectedWhileBusy(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Arm(true))

	done := make(chan struct{})
	go func() {
		_ = c.Fire(context.Background(), 30*time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	err := c.Fire(context.Background(), time.Millisecond)
	require.Error(t, err)
	kind, _ := turreterr.KindOf(err)
	assert.Equal(t, turreterr.Busy, kind)
	<-done
}

func TestSetPower_ClampsToMaxPowerPct(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.SetPower(200))
	assert.Equal(t, 80, c.Status().PowerPct)

	require.NoError(t, c.SetPower(-5))
	assert.Equal(t, 0, c.Status().PowerPct)
}

func TestArm_DisarmCancelsInFlightBurst(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Arm(true))

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Burst(context.Background(), 5, 20*time.Millisecond, 20*time.Millisecond)
	}()
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, c.Arm(false))
	err := <-errCh
	require.Error(t, err)
	assert.False(t, c.Status().IsOn)
}

func TestBurst_FiresCountTimesAndAppliesCooldownAfterLast(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Arm(true))

	err := c.Burst(context.Background(), 3, 2*time.Millisecond, 2*time.Millisecond)
	require.NoError(t, err)
	assert.EqualValues(t, 3, c.Status().FireCount)
	assert.True(t, time.Now().Before(c.Status().CooldownUntil.Add(time.Millisecond)))
}

func TestBurst_RejectsNonPositiveCount(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Arm(true))
	err := c.Burst(context.Background(), 0, time.Millisecond, time.Millisecond)
	require.Error(t, err)
	kind, _ := turreterr.KindOf(err)
	assert.Equal(t, turreterr.InvalidArgument, kind)
}
