package experiment

import (
	"sync"
	"time"

	"github.com/san-kum/knobsuite/internal/clock"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/metrics"
	"github.com/san-kum/knobsuite/internal/storage"
)

// Trajectory records every tick it is shown and feeds the snapshots to a
// set of metrics. Register it on the suite with suite.WithObserver.
type Trajectory struct {
	mu      sync.Mutex
	clk     clock.Clock
	start   time.Time
	every   int
	seen    int
	samples []storage.Sample
	metrics []metrics.Metric
}

// NewTrajectory keeps one sample in every n ticks; n below one keeps all.
func NewTrajectory(clk clock.Clock, every int, ms ...metrics.Metric) *Trajectory {
	if clk == nil {
		clk = clock.Wall{}
	}
	if every < 1 {
		every = 1
	}
	return &Trajectory{
		clk:     clk,
		start:   clk.Now(),
		every:   every,
		metrics: ms,
	}
}

func (t *Trajectory) OnTick(channel int, snap knob.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.metrics {
		m.Observe(snap)
	}
	t.seen++
	if (t.seen-1)%t.every != 0 {
		return
	}
	t.samples = append(t.samples, storage.Sample{
		Time:     t.clk.Now().Sub(t.start).Seconds(),
		Channel:  channel,
		Target:   snap.Target,
		Position: snap.Position,
		Command:  snap.Command,
		State:    snap.State.String(),
	})
}

// Samples returns a copy of what has been recorded so far.
func (t *Trajectory) Samples() []storage.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]storage.Sample, len(t.samples))
	copy(out, t.samples)
	return out
}

// Metrics returns the current value of every metric by name.
func (t *Trajectory) Metrics() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.metrics))
	for _, m := range t.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

// Reset drops the samples, resets every metric and restarts the clock.
func (t *Trajectory) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = nil
	t.seen = 0
	t.start = t.clk.Now()
	for _, m := range t.metrics {
		m.Reset()
	}
}
