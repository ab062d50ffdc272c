package metrics

import (
	"math"

	"github.com/san-kum/knobsuite/internal/knob"
)

// TrackingError is the mean absolute distance between filtered position and
// target.
type TrackingError struct {
	name    string
	sum     float64
	samples int
}

func NewTrackingError() *TrackingError {
	return &TrackingError{name: "tracking_error"}
}

func (e *TrackingError) Name() string { return e.name }

func (e *TrackingError) Observe(s knob.Snapshot) {
	e.sum += math.Abs(s.Position - s.Target)
	e.samples++
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return e.sum / float64(e.samples)
}

func (e *TrackingError) Reset() {
	e.sum = 0
	e.samples = 0
}

// InBand is the fraction of ticks whose position stayed within threshold of
// the target.
type InBand struct {
	name      string
	threshold float64
	hits      int
	samples   int
}

func NewInBand(threshold float64) *InBand {
	return &InBand{
		name:      "in_band",
		threshold: threshold,
	}
}

func (b *InBand) Name() string { return b.name }

func (b *InBand) Observe(s knob.Snapshot) {
	b.samples++
	if math.Abs(s.Position-s.Target) <= b.threshold {
		b.hits++
	}
}

func (b *InBand) Value() float64 {
	if b.samples == 0 {
		return 1.0
	}
	return float64(b.hits) / float64(b.samples)
}

func (b *InBand) Reset() {
	b.hits = 0
	b.samples = 0
}
