// Package metrics exposes turretd's counters as both a JSON map (for the
// operator UI) and Prometheus text exposition (for scraping), following
// the same moving-average response time trick the teacher uses.
package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Metrics aggregates turretd's operational counters.
type Metrics struct {
	FireCount        atomic.Int64
	BurstCount       atomic.Int64
	LimitTrips       atomic.Int64
	HomeCount        atomic.Int64
	HomeFailures     atomic.Int64
	IdleWatchdogTrip atomic.Int64
	CommandsRejected atomic.Int64
	JoystickDropped  atomic.Int64

	TotalRequests atomic.Int64
	TotalErrors   atomic.Int64

	mu              sync.Mutex
	avgResponseTime float64
	startTime       time.Time
}

// NewMetrics constructs an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordResponseTime updates the exponential moving average response time
// (alpha=0.1, matching the teacher's smoothing).
func (m *Metrics) RecordResponseTime(d time.Duration) {
	ms := float64(d.Milliseconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.avgResponseTime == 0 {
		m.avgResponseTime = ms
	} else {
		m.avgResponseTime = m.avgResponseTime*0.9 + ms*0.1
	}
}

func (m *Metrics) responseTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgResponseTime
}

// Snapshot is the JSON-friendly view of all counters, for the operator UI.
type Snapshot struct {
	FireCount        int64   `json:"fire_count"`
	BurstCount       int64   `json:"burst_count"`
	LimitTrips       int64   `json:"limit_trips"`
	HomeCount        int64   `json:"home_count"`
	HomeFailures     int64   `json:"home_failures"`
	IdleWatchdogTrip int64   `json:"idle_watchdog_trips"`
	CommandsRejected int64   `json:"commands_rejected"`
	JoystickDropped  int64   `json:"joystick_dropped"`
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	AvgResponseMs    float64 `json:"avg_response_time_ms"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	GoroutineCount   int     `json:"goroutine_count"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
}

// GetSnapshot returns a point-in-time view of all counters.
func (m *Metrics) GetSnapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		FireCount:        m.FireCount.Load(),
		BurstCount:       m.BurstCount.Load(),
		LimitTrips:       m.LimitTrips.Load(),
		HomeCount:        m.HomeCount.Load(),
		HomeFailures:     m.HomeFailures.Load(),
		IdleWatchdogTrip: m.IdleWatchdogTrip.Load(),
		CommandsRejected: m.CommandsRejected.Load(),
		JoystickDropped:  m.JoystickDropped.Load(),
		TotalRequests:    m.TotalRequests.Load(),
		TotalErrors:      m.TotalErrors.Load(),
		AvgResponseMs:    m.responseTime(),
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		GoroutineCount:   runtime.NumGoroutine(),
		MemoryUsedBytes:  memStats.Alloc,
	}
}

// PrometheusFormat renders all counters in Prometheus text exposition
// format.
func (m *Metrics) PrometheusFormat() string {
	s := m.GetSnapshot()
	return `# HELP turretd_fire_count_total Total successful laser fires
# TYPE turretd_fire_count_total counter
turretd_fire_count_total ` + fmtI(s.FireCount) + `

# HELP turretd_burst_count_total Total burst commands executed
# TYPE turretd_burst_count_total counter
turretd_burst_count_total ` + fmtI(s.BurstCount) + `

# HELP turretd_limit_trips_total Total commands rejected because a limit switch was triggered
# TYPE turretd_limit_trips_total counter
turretd_limit_trips_total ` + fmtI(s.LimitTrips) + `

# HELP turretd_home_count_total Total successful home sequences
# TYPE turretd_home_count_total counter
turretd_home_count_total ` + fmtI(s.HomeCount) + `

# HELP turretd_home_failures_total Total failed home sequences
# TYPE turretd_home_failures_total counter
turretd_home_failures_total ` + fmtI(s.HomeFailures) + `

# HELP turretd_idle_watchdog_trips_total Total idle watchdog activations
# TYPE turretd_idle_watchdog_trips_total counter
turretd_idle_watchdog_trips_total ` + fmtI(s.IdleWatchdogTrip) + `

# HELP turretd_commands_rejected_total Total commands rejected by the arbiter
# TYPE turretd_commands_rejected_total counter
turretd_commands_rejected_total ` + fmtI(s.CommandsRejected) + `

# HELP turretd_joystick_dropped_total Total malformed joystick samples dropped
# TYPE turretd_joystick_dropped_total counter
turretd_joystick_dropped_total ` + fmtI(s.JoystickDropped) + `

# HELP turretd_uptime_seconds Process uptime in seconds
# TYPE turretd_uptime_seconds gauge
turretd_uptime_seconds ` + fmtI(s.UptimeSeconds) + `

# HELP turretd_memory_used_bytes Allocated heap bytes
# TYPE turretd_memory_used_bytes gauge
turretd_memory_used_bytes ` + fmtU(s.MemoryUsedBytes) + `

# HELP turretd_goroutines Current goroutine count
# TYPE turretd_goroutines gauge
turretd_goroutines ` + fmt.Sprintf("%d", s.GoroutineCount) + `

# HELP turretd_operator_requests_total Total operator HTTP requests
# TYPE turretd_operator_requests_total counter
turretd_operator_requests_total ` + fmtI(s.TotalRequests) + `

# HELP turretd_operator_errors_total Total operator HTTP 4xx/5xx responses
# TYPE turretd_operator_errors_total counter
turretd_operator_errors_total ` + fmtI(s.TotalErrors) + `

# HELP turretd_operator_response_time_ms Moving-average operator response time
# TYPE turretd_operator_response_time_ms gauge
turretd_operator_response_time_ms ` + fmt.Sprintf("%.2f", s.AvgResponseMs) + `
`
}

// FiberMiddleware records request counts, error counts, and response time
// for the operator HTTP surface.
func FiberMiddleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.TotalRequests.Add(1)

		err := c.Next()

		m.RecordResponseTime(time.Since(start))
		if c.Response().StatusCode() >= 400 {
			m.TotalErrors.Add(1)
		}
		return err
	}
}

func fmtI(n int64) string  { return fmt.Sprintf("%d", n) }
func fmtU(n uint64) string { return fmt.Sprintf("%d", n) }
