package hal

import (
	"sync"
	"time"

	"github.com/edgeturret/turretcore/internal/turreterr"
)

const (
	debounceWindow   = 100 * time.Millisecond
	confirmReadDelay = 1 * time.Millisecond
)

type mockPin struct {
	dir   Direction
	pull  Pull
	level bool
	pwm   *mockPWM
}

type mockWatch struct {
	edge        Edge
	handler     EdgeHandler
	lastLevel   bool
	lastTrigger time.Time
}

// MockGPIO is an in-memory GPIO backend for tests. It reproduces the
// debounce behavior (100ms suppression, 1ms confirmation read) described
// for the real backend so tests exercise the same edge-delivery timing.
type MockGPIO struct {
	mu      sync.Mutex
	pins    map[int]*mockPin
	watches map[int]*mockWatch
}

// NewMockGPIO creates an empty mock GPIO backend.
func NewMockGPIO() *MockGPIO {
	return &MockGPIO{
		pins:    make(map[int]*mockPin),
		watches: make(map[int]*mockWatch),
	}
}

func (m *MockGPIO) pinOrCreate(pin int) *mockPin {
	p, ok := m.pins[pin]
	if !ok {
		p = &mockPin{}
		m.pins[pin] = p
	}
	return p
}

func (m *MockGPIO) Configure(pin int, dir Direction, pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pinOrCreate(pin)
	p.dir = dir
	p.pull = pull
	if dir == DirInput && pull == PullUp {
		// A pulled-up input idles high until something drives it low.
		p.level = true
	}
	return nil
}

func (m *MockGPIO) Write(pin int, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pins[pin]
	if !ok {
		return turreterr.New(turreterr.HardwareError, "pin %d not configured", pin)
	}
	p.level = level
	return nil
}

func (m *MockGPIO) Read(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(pin)
}

func (m *MockGPIO) readLocked(pin int) (bool, error) {
	p, ok := m.pins[pin]
	if !ok {
		return false, turreterr.New(turreterr.HardwareError, "pin %d not configured", pin)
	}
	return p.level, nil
}

func (m *MockGPIO) Watch(pin int, edge Edge, handler EdgeHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := false
	if p, ok := m.pins[pin]; ok {
		level = p.level
	}
	m.watches[pin] = &mockWatch{edge: edge, handler: handler, lastLevel: level}
	return nil
}

func (m *MockGPIO) Unwatch(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, pin)
	return nil
}

func (m *MockGPIO) PWMOpen(pin int, freqHz int) (PWM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pinOrCreate(pin)
	pwm := &mockPWM{pin: pin, freqHz: freqHz}
	p.pwm = pwm
	return pwm, nil
}

func (m *MockGPIO) Cleanup(pins []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pin := range pins {
		if p, ok := m.pins[pin]; ok {
			p.level = false
			if p.pwm != nil {
				p.pwm.duty = 0
				p.pwm.open = false
			}
		}
		delete(m.watches, pin)
	}
	return nil
}

// Inject simulates a physical level change on pin, running it through the
// same debounce/confirmation pipeline the real backend applies before
// invoking a registered edge handler. It blocks until the confirmation
// window has elapsed so tests can assert immediately afterward.
func (m *MockGPIO) Inject(pin int, level bool) {
	m.mu.Lock()
	p := m.pinOrCreate(pin)
	p.level = level
	w, watched := m.watches[pin]
	if !watched {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	if !w.lastTrigger.IsZero() && now.Sub(w.lastTrigger) < debounceWindow {
		m.mu.Unlock()
		return
	}
	edgeType := classifyEdge(w.lastLevel, level)
	m.mu.Unlock()

	if edgeType == edgeNone {
		return
	}

	time.Sleep(confirmReadDelay)

	m.mu.Lock()
	confirmed, err := m.readLocked(pin)
	if err != nil || confirmed != level {
		m.mu.Unlock()
		return
	}
	w, watched = m.watches[pin]
	if !watched {
		m.mu.Unlock()
		return
	}
	if !edgeMatches(w.edge, edgeType) {
		w.lastLevel = level
		m.mu.Unlock()
		return
	}
	w.lastLevel = level
	w.lastTrigger = time.Now()
	handler := w.handler
	m.mu.Unlock()

	handler(pin, level)
}

func classifyEdge(last, current bool) Edge {
	switch {
	case !last && current:
		return EdgeRising
	case last && !current:
		return EdgeFalling
	default:
		return edgeNone
	}
}

func edgeMatches(want, got Edge) bool {
	if want == EdgeBoth {
		return got == EdgeRising || got == EdgeFalling
	}
	return want == got
}

type mockPWM struct {
	mu     sync.Mutex
	pin    int
	freqHz int
	duty   float64
	open   bool
}

func (p *mockPWM) Start(dutyPct float64) error {
	d, err := clampDuty(dutyPct)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.duty = d
	return nil
}

func (p *mockPWM) SetDuty(dutyPct float64) error {
	d, err := clampDuty(dutyPct)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = d
	return nil
}

func (p *mockPWM) SetFreq(hz int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freqHz = hz
	return nil
}

func (p *mockPWM) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = 0
	p.open = false
	return nil
}

// Duty returns the last commanded duty cycle, for test assertions.
func (p *mockPWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// clampDuty implements the GPIO abstraction's PWM boundary rule (spec.md
// §4.1): values above 100 are clamped down to 100, but negative or NaN
// inputs are rejected outright rather than silently clamped to zero.
func clampDuty(pct float64) (float64, error) {
	if pct != pct { // NaN
		return 0, turreterr.New(turreterr.InvalidArgument, "duty cycle is NaN")
	}
	if pct < 0 {
		return 0, turreterr.New(turreterr.InvalidArgument, "duty cycle %.2f is negative", pct)
	}
	if pct > 100 {
		return 100, nil
	}
	return pct, nil
}
