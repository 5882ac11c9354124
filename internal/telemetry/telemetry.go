// Package telemetry publishes a read-only snapshot of turret state at a
// fixed cadence for broadcast to the operator surface (spec.md §5, §6).
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeturret/turretcore/internal/laser"
	"github.com/edgeturret/turretcore/internal/tracking"
)

// AxisSnapshot mirrors tracking.AxisSnapshot for the wire format.
type AxisSnapshot struct {
	Name      string `json:"name"`
	Position  int64  `json:"position"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Snapshot is the full telemetry structure broadcast at each tick
// (spec.md §3 "Telemetry snapshot").
type Snapshot struct {
	Sequence      uint64               `json:"sequence"`
	Timestamp     time.Time            `json:"timestamp"`
	Mode          string               `json:"mode"`
	Pan           AxisSnapshot         `json:"pan"`
	Tilt          AxisSnapshot         `json:"tilt"`
	Laser         laser.State          `json:"laser"`
	LastTargetAge time.Duration        `json:"last_target_age_ns"`
	Calibration   tracking.Calibration `json:"calibration"`
}

// Publisher emits a Snapshot to every registered subscriber at a fixed
// rate (default 2 Hz, spec.md §6 "Telemetry").
type Publisher struct {
	tracking *tracking.TrackingController
	laser    *laser.SafetyController

	mu   sync.Mutex
	subs []chan<- Snapshot

	seq atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewPublisher constructs a publisher and starts its ticking loop at the
// given rate (e.g. 500ms for 2 Hz).
func NewPublisher(tc *tracking.TrackingController, lc *laser.SafetyController, rate time.Duration) *Publisher {
	if rate <= 0 {
		rate = 500 * time.Millisecond
	}
	p := &Publisher{
		tracking: tc,
		laser:    lc,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.run(rate)
	return p
}

// Subscribe registers ch to receive every future snapshot. Sends are
// non-blocking: a slow subscriber misses snapshots rather than stalling
// the publisher.
func (p *Publisher) Subscribe(ch chan<- Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, ch)
}

// Close stops the publisher's ticking loop. Idempotent.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.stopped
	})
}

func (p *Publisher) run(rate time.Duration) {
	defer close(p.stopped)
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.publish()
		}
	}
}

func (p *Publisher) publish() {
	snap := p.Snapshot()
	p.mu.Lock()
	subs := append([]chan<- Snapshot(nil), p.subs...)
	p.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Snapshot builds one telemetry snapshot on demand (used by the tick loop
// and by an operator poll handler alike).
func (p *Publisher) Snapshot() Snapshot {
	ts := p.tracking.Snapshot()
	return Snapshot{
		Sequence:      p.seq.Add(1),
		Timestamp:     time.Now(),
		Mode:          ts.Mode.String(),
		Pan:           AxisSnapshot{Name: ts.Pan.Name, Position: ts.Pan.Position, Status: ts.Pan.Status, LastError: ts.Pan.LastError},
		Tilt:          AxisSnapshot{Name: ts.Tilt.Name, Position: ts.Tilt.Position, Status: ts.Tilt.Status, LastError: ts.Tilt.LastError},
		Laser:         p.laser.Status(),
		LastTargetAge: ts.LastTargetAge,
		Calibration:   ts.Calibration,
	}
}
