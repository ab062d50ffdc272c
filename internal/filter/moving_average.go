// Package filter smooths noisy samples.
package filter

import "github.com/san-kum/knobsuite/internal/fault"

// MovingAverage is a fixed-size rolling mean. The window is always full: it
// starts pre-filled, so every output averages exactly Size() samples.
type MovingAverage struct {
	window []float64
	next   int
	mean   float64
}

func NewMovingAverage(size int, fill float64) (*MovingAverage, error) {
	if size <= 0 {
		return nil, fault.Configf("filter window size must be positive, got %d", size)
	}
	m := &MovingAverage{window: make([]float64, size)}
	m.Reset(fill)
	return m, nil
}

// Push replaces the oldest sample with v and returns the new mean.
func (m *MovingAverage) Push(v float64) float64 {
	m.window[m.next] = v
	m.next = (m.next + 1) % len(m.window)

	// Summed from scratch so the result never drifts.
	sum := 0.0
	for _, s := range m.window {
		sum += s
	}
	m.mean = sum / float64(len(m.window))
	return m.mean
}

// Prime pushes every sample in order and returns the resulting mean.
func (m *MovingAverage) Prime(samples ...float64) float64 {
	for _, s := range samples {
		m.Push(s)
	}
	return m.mean
}

// Reset fills the whole window with v.
func (m *MovingAverage) Reset(v float64) {
	for i := range m.window {
		m.window[i] = v
	}
	m.next = 0
	m.mean = v
}

// Clone returns an independent copy of the window.
func (m *MovingAverage) Clone() *MovingAverage {
	return &MovingAverage{
		window: append([]float64(nil), m.window...),
		next:   m.next,
		mean:   m.mean,
	}
}

func (m *MovingAverage) Value() float64 { return m.mean }
func (m *MovingAverage) Size() int      { return len(m.window) }
