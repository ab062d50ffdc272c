package knob

// State is where a controller is in a move.
type State int

const (
	// Idle: the last move settled and the stop command was written.
	Idle State = iota
	// Moving: outside tolerance, commanding the servo.
	Moving
	// Settling: inside tolerance, waiting for the settling window to fill.
	Settling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Moving:
		return "moving"
	case Settling:
		return "settling"
	default:
		return "unknown"
	}
}
