// Package knob closes the loop around one servo-driven potentiometer.
//
// A Controller is ticked once per sampling interval. Each tick reads and
// smooths the potentiometer, runs a BoundedPID, shifts the output past the
// servo's dead zone and writes it to the bus. Near either end of travel the
// PID output range is narrowed so the knob cannot slam into its stop.
//
// Settling uses a moving average of 0/1 in-tolerance indicators: the move is
// finished once every sample in the settling window was within tolerance.
// The servo is then parked and the tolerance relaxed, so sensor noise alone
// does not restart a finished move.
package knob
