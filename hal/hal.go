// Package hal abstracts GPIO hardware access behind a single capability
// set. Each variant (character device, periph polling, simulated) lives in
// its own file; everything above this package is backend-agnostic.
package hal

import (
	"context"
	"fmt"
	"time"

	"github.com/pinwire/pinwire/device"
)

// Backend is the capability set every hardware variant implements with
// identical caller-visible semantics.
type Backend interface {
	// Configure applies a direction/function/pull role to a pin.
	Configure(pin device.Pin, dir device.Direction, fn device.Function, pull device.Pull) error

	// Write drives an output pin. Writes are immediately observable by a
	// subsequent Read; there is no write buffering.
	Write(pin device.Pin, level device.Level) error

	// Read samples a pin. For outputs it returns the last commanded level.
	Read(pin device.Pin) (device.Level, error)

	// Watch streams level changes for a pin until the context is canceled
	// or the backend is torn down. Polling variants deliver with bounded
	// latency, not instantly.
	Watch(ctx context.Context, pin device.Pin) (<-chan Event, error)

	// Close releases any exclusive hardware claim. Idempotent.
	Close() error
}

// Event is one observed level change on a watched pin.
type Event struct {
	Pin       device.Pin
	Level     device.Level
	Timestamp time.Time
}

// ErrorKind classifies backend failures so callers can branch without
// string matching.
type ErrorKind int

const (
	// Unavailable means the device is gone or was never there. The
	// controller treats this one as entering degraded mode.
	Unavailable ErrorKind = iota
	Permission
	UnsupportedConfiguration
	PinBusy
	WrongDirection
	UnknownPin
)

func (k ErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Permission:
		return "permission denied"
	case UnsupportedConfiguration:
		return "unsupported configuration"
	case PinBusy:
		return "pin busy"
	case WrongDirection:
		return "wrong direction"
	case UnknownPin:
		return "unknown pin"
	}
	return fmt.Sprintf("hardware error %d", int(k))
}

// Error is a backend-level failure tied to a pin.
type Error struct {
	Kind  ErrorKind
	Pin   device.Pin
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pin %d: %s: %s", e.Pin, e.Kind, e.Cause)
	}
	return fmt.Sprintf("pin %d: %s", e.Pin, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same kind, so callers can write
// errors.Is(err, &hal.Error{Kind: hal.Unavailable}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errf builds a backend error with a formatted cause.
func Errf(kind ErrorKind, pin device.Pin, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Pin: pin, Cause: fmt.Errorf(format, args...)}
}
