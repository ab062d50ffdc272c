package control

import (
	"math"

	"github.com/san-kum/knobsuite/internal/fault"
)

type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

type BoundedPID struct {
	Gains
	dt       float64
	setpoint float64
	lower    float64
	upper    float64
	initial  float64
	iTerm    float64
	prevErr  float64
	first    bool

	lastP, lastI, lastD float64
}

// NewBoundedPID builds a controller sampled every dt seconds. initial seeds
// the integral term so the first outputs sit at a chosen resting command.
func NewBoundedPID(g Gains, dt, lower, upper, initial float64) (*BoundedPID, error) {
	if dt <= 0 || math.IsNaN(dt) {
		return nil, fault.Configf("sampling interval must be positive, got %v", dt)
	}
	if err := checkBounds(lower, upper); err != nil {
		return nil, err
	}
	p := &BoundedPID{
		Gains:   g,
		dt:      dt,
		lower:   lower,
		upper:   upper,
		initial: initial,
	}
	p.Reset()
	return p, nil
}

func checkBounds(lower, upper float64) error {
	if math.IsNaN(lower) || math.IsNaN(upper) || lower > upper {
		return fault.Configf("output bounds inverted: lower %v > upper %v", lower, upper)
	}
	return nil
}

// Step consumes one measurement and returns the clamped output.
func (p *BoundedPID) Step(measurement float64) float64 {
	err := p.setpoint - measurement

	p.iTerm = clamp(p.iTerm+p.Ki*err*p.dt, p.lower, p.upper)

	derivative := 0.0
	if !p.first {
		derivative = (err - p.prevErr) / p.dt
	}
	p.first = false
	p.prevErr = err

	p.lastP = p.Kp * err
	p.lastI = p.iTerm
	p.lastD = p.Kd * derivative

	return clamp(p.lastP+p.lastI+p.lastD, p.lower, p.upper)
}

// SetSetpoint changes the target. The next Step skips the derivative term so
// a setpoint jump does not kick the output.
func (p *BoundedPID) SetSetpoint(sp float64) {
	if sp != p.setpoint {
		p.first = true
	}
	p.setpoint = sp
}

func (p *BoundedPID) Setpoint() float64 { return p.setpoint }

// SetOutputBounds replaces the output range used from the next Step on.
func (p *BoundedPID) SetOutputBounds(lower, upper float64) error {
	if err := checkBounds(lower, upper); err != nil {
		return err
	}
	p.lower, p.upper = lower, upper
	return nil
}

func (p *BoundedPID) OutputBounds() (lower, upper float64) { return p.lower, p.upper }

// Components returns the P, I and D contributions of the last Step.
func (p *BoundedPID) Components() (prop, integral, deriv float64) {
	return p.lastP, p.lastI, p.lastD
}

// Reset clears integral and derivative state
func (p *BoundedPID) Reset() {
	p.iTerm = clamp(p.initial, p.lower, p.upper)
	p.prevErr = 0
	p.first = true
	p.lastP, p.lastI, p.lastD = 0, 0, 0
}

// Clone copies the controller including its integral and derivative state.
func (p *BoundedPID) Clone() *BoundedPID {
	cp := *p
	return &cp
}

// Params returns the gains and sampling interval for diagnostics
func (p *BoundedPID) Params() map[string]float64 {
	return map[string]float64{
		"Kp": p.Kp,
		"Ki": p.Ki,
		"Kd": p.Kd,
		"dt": p.dt,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
