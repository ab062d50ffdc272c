package fault

import (
	"errors"
	"fmt"
)

// Domain errors for knob control.
var (
	// ErrConfiguration indicates invalid static parameters.
	ErrConfiguration = errors.New("knobsuite: invalid configuration")

	// ErrArity indicates a setpoint vector whose length differs from the number of knobs.
	ErrArity = errors.New("knobsuite: setpoint count does not match knob count")

	// ErrBus indicates a failed read or write on the shared bus.
	ErrBus = errors.New("knobsuite: bus transaction failed")

	// ErrDidNotSettle indicates a knob ran out of ticks before settling.
	ErrDidNotSettle = errors.New("knobsuite: knob did not settle")
)

// Configf returns an error wrapping ErrConfiguration.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// BusError wraps a driver failure with the operation and channel it hit.
type BusError struct {
	Op      string
	Channel int
	Err     error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s on channel %d: %v", e.Op, e.Channel, e.Err)
}

func (e *BusError) Unwrap() []error {
	return []error{ErrBus, e.Err}
}

// ArityError reports a setpoint vector of the wrong length.
type ArityError struct {
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%v: want %d setpoints, got %d", ErrArity, e.Want, e.Got)
}

func (e *ArityError) Unwrap() error {
	return ErrArity
}

// DidNotSettleError reports the channel that exhausted its tick budget.
type DidNotSettleError struct {
	Channel int
	Ticks   int
	Target  float64
}

func (e *DidNotSettleError) Error() string {
	return fmt.Sprintf("%v: channel %d still moving toward %.1f after %d ticks", ErrDidNotSettle, e.Channel, e.Target, e.Ticks)
}

func (e *DidNotSettleError) Unwrap() error {
	return ErrDidNotSettle
}
