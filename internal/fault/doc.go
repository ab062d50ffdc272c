// Package fault defines the error taxonomy shared by the knob control stack.
//
// Every failure surfaced by the core wraps one of four sentinels so callers
// can branch with [errors.Is]:
//
//   - [ErrConfiguration]: invalid static parameters, fatal at construction
//   - [ErrArity]: setpoint vector length does not match the channel count
//   - [ErrBus]: transient failure of a bus transaction
//   - [ErrDidNotSettle]: a knob exceeded its tick budget
//
// Typed errors ([BusError], [ArityError], [DidNotSettleError]) carry the
// channel and operation context.
package fault
