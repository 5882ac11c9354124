// Package hal is the hardware abstraction layer for the turret core: digital
// I/O, edge-triggered watches with debounce, and PWM, backed either by real
// GPIO chip access or an in-memory mock for tests.
package hal

import (
	"sync"

	"github.com/edgeturret/turretcore/internal/turreterr"
)

// Direction is the configured mode of a GPIO line.
type Direction int

const (
	DirInput Direction = iota
	DirOutput
)

// Pull is the pull resistor configuration of an input line.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Edge is the edge transition an edge watcher triggers on.
type Edge int

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeBoth
	// edgeNone is an internal sentinel meaning "no transition occurred";
	// it is never a handler's registered edge.
	edgeNone Edge = -1
)

// EdgeHandler is invoked from a platform thread on a triggered, debounced
// edge. Implementations must be non-blocking: record state and return.
type EdgeHandler func(pin int, level bool)

// PWM is a single PWM-capable channel opened on a pin.
type PWM interface {
	// Start begins output at dutyPct (0-100).
	Start(dutyPct float64) error
	// SetDuty updates the duty cycle (0-100); clamped at the boundary.
	SetDuty(dutyPct float64) error
	// SetFreq updates the PWM frequency in Hz.
	SetFreq(hz int) error
	// Stop drives duty to zero and releases the channel.
	Stop() error
}

// GPIO is the capability set every turret component is built against. Pins
// are configured once; callers do not re-probe hardware on every access.
type GPIO interface {
	Configure(pin int, dir Direction, pull Pull) error
	Write(pin int, level bool) error
	Read(pin int) (bool, error)
	// Watch installs a debounced edge handler: a 100ms suppression window
	// plus a confirmation read 1ms after the edge, rejecting the event if
	// the pin no longer reads active. Replacing a watch on the same pin
	// removes the prior one.
	Watch(pin int, edge Edge, handler EdgeHandler) error
	Unwatch(pin int) error
	// PWMOpen opens a PWM channel on pin at freqHz.
	PWMOpen(pin int, freqHz int) (PWM, error)
	// Cleanup drives every configured pin to its inactive/high-impedance
	// level and stops any open PWM channels. Idempotent.
	Cleanup(pins []int) error
}

// Backend selects which GPIO implementation is active process-wide. It is
// set once at startup (spec.md §5 "Process-wide state") and read by
// reference thereafter — nothing in this repo touches a bare global.
type Backend struct {
	gpio GPIO
}

var (
	current   *Backend
	currentMu sync.RWMutex
)

// SetGlobal installs the process-wide GPIO backend.
func SetGlobal(g GPIO) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = &Backend{gpio: g}
}

// Global returns the process-wide GPIO backend, or an error if none has
// been installed yet.
func Global() (GPIO, error) {
	currentMu.RLock()
	defer currentMu.RUnlock()
	if current == nil {
		return nil, turreterr.New(turreterr.InvalidConfig, "hal: backend not initialized")
	}
	return current.gpio, nil
}
