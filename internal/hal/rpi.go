//go:build linux

package hal

import (
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/host/v3"

	"github.com/edgeturret/turretcore/internal/turreterr"
)

// RealGPIO talks to the Raspberry Pi's GPIO chip via go-rpio for digital
// I/O and runs a lightweight poll-based edge watcher (go-rpio exposes no
// interrupt API) with the debounce/confirmation rule from spec.md §4.1.
type RealGPIO struct {
	mu      sync.Mutex
	pins    map[int]rpio.Pin
	watches map[int]*realWatch
	pwms    map[int]*realPWM
	stop    chan struct{}
	started bool
}

type realWatch struct {
	edge        Edge
	handler     EdgeHandler
	lastLevel   bool
	lastTrigger time.Time
}

// NewRealGPIO opens the GPIO memory map and initializes the periph.io host
// drivers. PWM channels are driven through go-rpio with an integer Hz
// frequency.
func NewRealGPIO() (*RealGPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "opening GPIO")
	}
	if _, err := host.Init(); err != nil {
		return nil, turreterr.Wrap(turreterr.HardwareError, err, "initializing periph host")
	}
	g := &RealGPIO{
		pins:    make(map[int]rpio.Pin),
		watches: make(map[int]*realWatch),
		pwms:    make(map[int]*realPWM),
		stop:    make(chan struct{}),
	}
	go g.pollLoop()
	return g, nil
}

func (g *RealGPIO) Configure(pin int, dir Direction, pull Pull) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := rpio.Pin(pin)
	switch dir {
	case DirOutput:
		p.Output()
	case DirInput:
		p.Input()
		switch pull {
		case PullUp:
			p.PullUp()
		case PullDown:
			p.PullDown()
		default:
			p.PullOff()
		}
	}
	g.pins[pin] = p
	return nil
}

func (g *RealGPIO) Write(pin int, level bool) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return turreterr.New(turreterr.HardwareError, "pin %d not configured", pin)
	}
	if level {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (g *RealGPIO) Read(pin int) (bool, error) {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return false, turreterr.New(turreterr.HardwareError, "pin %d not configured", pin)
	}
	return p.Read() == rpio.High, nil
}

func (g *RealGPIO) Watch(pin int, edge Edge, handler EdgeHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	level := false
	if p, ok := g.pins[pin]; ok {
		level = p.Read() == rpio.High
	}
	g.watches[pin] = &realWatch{edge: edge, handler: handler, lastLevel: level}
	return nil
}

func (g *RealGPIO) Unwatch(pin int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.watches, pin)
	return nil
}

func (g *RealGPIO) PWMOpen(pin int, freqHz int) (PWM, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := rpio.Pin(pin)
	p.Output()
	g.pins[pin] = p
	pwm := &realPWM{pin: p, freqHz: freqHz}
	g.pwms[pin] = pwm
	return pwm, nil
}

func (g *RealGPIO) Cleanup(pins []int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, pin := range pins {
		if p, ok := g.pins[pin]; ok {
			p.Low()
			p.Input() // high-impedance
		}
		if pwm, ok := g.pwms[pin]; ok {
			pwm.stopLocked()
		}
		delete(g.watches, pin)
	}
	return nil
}

// pollLoop is the platform thread standing in for an edge-IRQ source:
// go-rpio offers no interrupt hook, so watched pins are sampled at a rate
// fast enough that the debounce rule (100ms suppression + 1ms confirmation
// read) still holds.
func (g *RealGPIO) pollLoop() {
	ticker := time.NewTicker(200 * time.Microsecond)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.pollOnce()
		}
	}
}

func (g *RealGPIO) pollOnce() {
	g.mu.Lock()
	type pending struct {
		pin     int
		level   bool
		handler EdgeHandler
		edge    Edge
	}
	var fires []pending
	for pin, w := range g.watches {
		p, ok := g.pins[pin]
		if !ok {
			continue
		}
		level := p.Read() == rpio.High
		if level == w.lastLevel {
			continue
		}
		now := time.Now()
		if !w.lastTrigger.IsZero() && now.Sub(w.lastTrigger) < debounceWindow {
			continue
		}
		edgeType := classifyEdge(w.lastLevel, level)
		if edgeType == edgeNone {
			continue
		}
		fires = append(fires, pending{pin: pin, level: level, handler: w.handler, edge: edgeType})
		w.lastLevel = level
		w.lastTrigger = now
	}
	g.mu.Unlock()

	for _, f := range fires {
		time.Sleep(confirmReadDelay)
		g.mu.Lock()
		p, ok := g.pins[f.pin]
		confirmed := ok && (p.Read() == rpio.High) == f.level
		w, stillWatched := g.watches[f.pin]
		matches := stillWatched && edgeMatches(w.edge, f.edge)
		g.mu.Unlock()
		if confirmed && matches {
			f.handler(f.pin, f.level)
		}
	}
}

// Close stops the poll loop and releases the GPIO memory map.
func (g *RealGPIO) Close() error {
	close(g.stop)
	return rpio.Close()
}

type realPWM struct {
	mu     sync.Mutex
	pin    rpio.Pin
	freqHz int
	duty   float64
}

func (p *realPWM) Start(dutyPct float64) error {
	d, err := clampDuty(dutyPct)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin.Pwm()
	p.pin.Freq(p.freqHz)
	p.duty = d
	p.pin.DutyCycle(uint32(d), 100)
	return nil
}

func (p *realPWM) SetDuty(dutyPct float64) error {
	d, err := clampDuty(dutyPct)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = d
	p.pin.DutyCycle(uint32(d), 100)
	return nil
}

func (p *realPWM) SetFreq(hz int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freqHz = hz
	p.pin.Freq(hz)
	return nil
}

func (p *realPWM) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *realPWM) stopLocked() {
	p.duty = 0
	p.pin.DutyCycle(0, 100)
	p.pin.Output()
	p.pin.Low()
}
