package sim

// Servo models a continuous-rotation servo coupled to a potentiometer. The
// state is the potentiometer position and the control is the raw command.
// Commands inside the dead band hold still; commands above MaxCommand are
// invalid pulses the servo ignores, which is how it gets parked.
type Servo struct {
	Gain       float64 // position units per second per command unit
	DeadLow    float64
	DeadHigh   float64
	MaxCommand float64
}

func DefaultServo() *Servo {
	return &Servo{
		Gain:       10,
		DeadLow:    47,
		DeadHigh:   51,
		MaxCommand: 90,
	}
}

func (s *Servo) Velocity(cmd float64) float64 {
	switch {
	case cmd > s.MaxCommand:
		return 0
	case cmd > s.DeadHigh:
		return s.Gain * (cmd - s.DeadHigh)
	case cmd < s.DeadLow:
		return s.Gain * (cmd - s.DeadLow)
	}
	return 0
}

func (s *Servo) Derivative(x State, u Control, t float64) State {
	return State{s.Velocity(u[0])}
}

func (s *Servo) StateDim() int   { return 1 }
func (s *Servo) ControlDim() int { return 1 }
