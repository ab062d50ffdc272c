package knob

// LogRecord summarises one completed move.
type LogRecord struct {
	Channel        int     `json:"channel"`
	StartSetpoint  float64 `json:"startSetpoint"`
	EndSetpoint    float64 `json:"endSetpoint"`
	ElapsedSeconds float64 `json:"time"`
	Overshoot      float64 `json:"overshoot"`
	MinSpeed       float64 `json:"minSpeed"`
	MaxSpeed       float64 `json:"maxSpeed"`
	Ticks          int     `json:"ticks"`
}

// Stationary reports whether the move started where it ended.
func (r LogRecord) Stationary() bool {
	return r.StartSetpoint == r.EndSetpoint
}

// Snapshot is a point-in-time view of a controller, taken after each tick.
type Snapshot struct {
	Channel   int
	State     State
	Target    float64
	Position  float64
	Command   float64
	Lower     float64
	Upper     float64
	Tolerance float64
	Settling  float64
	Overshoot float64
	Ticks     int
}
