// Package bus talks to the knob hardware: an ADC that reports each knob's
// potentiometer and a PWM hat that drives each knob's continuous servo.
//
// All access goes through a Driver handed to the controllers explicitly. The
// underlying transport is not reentrant, so callers must never overlap two
// calls; the suite guarantees that by driving every channel from one
// goroutine.
package bus

import (
	"context"

	"github.com/san-kum/knobsuite/internal/fault"
)

// ErrBus is matched by every transport failure a Driver reports.
var ErrBus = fault.ErrBus

// Error carries the failed operation and channel.
type Error = fault.BusError

type Driver interface {
	// ReadPosition returns the raw 8-bit potentiometer reading.
	ReadPosition(ctx context.Context, channel int) (uint8, error)
	// SetActuatorCommand writes a servo command. Values in the configured
	// neutral band hold still; StopCommand parks the servo.
	SetActuatorCommand(ctx context.Context, channel int, cmd float64) error
}

// Operation names recorded in Error.Op.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// Wrap annotates a transport failure. A nil err stays nil.
func Wrap(op string, channel int, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Channel: channel, Err: err}
}
