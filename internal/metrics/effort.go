package metrics

import (
	"math"

	"github.com/san-kum/knobsuite/internal/knob"
)

// ControlEffort is the mean distance of the servo command from neutral,
// counted only on ticks where the servo was driven.
type ControlEffort struct {
	name    string
	neutral float64
	stop    float64
	sum     float64
	samples int
}

func NewControlEffort(neutral, stop float64) *ControlEffort {
	return &ControlEffort{
		name:    "control_effort",
		neutral: neutral,
		stop:    stop,
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(s knob.Snapshot) {
	if s.Command == c.stop {
		return
	}
	c.sum += math.Abs(s.Command - c.neutral)
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}
