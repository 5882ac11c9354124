// Package turreterr is the shared error taxonomy for the turret core
// (spec.md §7). Every component surfaces one of these tagged kinds instead
// of raw, untyped errors so callers (the arbiter, the operator surface,
// telemetry) can branch on category without string matching.
package turreterr

import (
	"errors"
	"fmt"
)

// Kind classifies a turret error for programmatic handling.
type Kind string

const (
	InvalidConfig   Kind = "invalid_config"
	InvalidArgument Kind = "invalid_argument"
	HardwareError   Kind = "hardware_error"
	LimitBlocked    Kind = "limit_blocked"
	ModeDisabled    Kind = "mode_disabled"
	Cooldown        Kind = "cooldown"
	Timeout         Kind = "timeout"
	Cancelled       Kind = "cancelled"
	Malformed       Kind = "malformed"
	Busy            Kind = "busy"
	Disarmed        Kind = "disarmed"
)

// Error is a tagged-variant error carrying a Kind and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is against a bare Kind-tagged sentinel comparison by
// matching on Kind rather than pointer identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinel lets callers use errors.Is(err, turreterr.Sentinel(LimitBlocked)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
