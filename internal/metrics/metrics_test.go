package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSnapshot_ReflectsCounters(t *testing.T) {
	m := NewMetrics()
	m.FireCount.Add(3)
	m.LimitTrips.Add(1)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 3, snap.FireCount)
	assert.EqualValues(t, 1, snap.LimitTrips)
}

func TestRecordResponseTime_ComputesMovingAverage(t *testing.T) {
	m := NewMetrics()
	m.RecordResponseTime(100 * time.Millisecond)
	assert.Equal(t, 100.0, m.responseTime())

	m.RecordResponseTime(200 * time.Millisecond)
	assert.InDelta(t, 110.0, m.responseTime(), 0.01)
}

func TestPrometheusFormat_ContainsCounters(t *testing.T) {
	m := NewMetrics()
	m.HomeCount.Add(2)
	out := m.PrometheusFormat()
	assert.Contains(t, out, "turretd_home_count_total 2")
}
