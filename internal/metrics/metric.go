// Package metrics measures controller behaviour, both as in-process
// per-tick accumulators and as Prometheus collectors.
package metrics

import "github.com/san-kum/knobsuite/internal/knob"

// Metric accumulates a scalar over the ticks of a run.
type Metric interface {
	Name() string
	Observe(s knob.Snapshot)
	Value() float64
	Reset()
}
