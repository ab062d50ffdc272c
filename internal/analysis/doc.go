// Package analysis post-processes the move logs and trajectories of stored
// experiments.
//
//   - [RemoveStationary]: drop moves that started where they ended
//   - [AverageTransitions]: average time and overshoot over repeated runs
//   - [Summarize]: per-channel mean and spread of settle time and overshoot
//   - [TimeMatrix]: settle time laid out by start and end setpoint
//   - [Hunting]: dominant oscillation of a position error series
//
// Repeated experiments must visit the same transitions in the same order
// before they can be averaged:
//
//	avg, err := analysis.AverageTransitions(runs)
//	if errors.Is(err, analysis.ErrMismatch) {
//	    // avg holds the transitions up to the first disagreement
//	}
package analysis
