package knob

import (
	"math"
	"time"

	"github.com/san-kum/knobsuite/internal/control"
	"github.com/san-kum/knobsuite/internal/fault"
)

// Tuning defaults for a continuous servo turning a 270 degree potentiometer
// read through an 8-bit ADC.
const (
	DefaultMinPosition            = 0
	DefaultMaxPosition            = 255
	DefaultDeadzoneCenter         = 49
	DefaultDeadzoneSize           = 4
	DefaultSpeedMagnitude         = 30
	DefaultBoundarySpeedMagnitude = 3
	DefaultBoundaryOuterThreshold = 20
	DefaultBoundaryInnerThreshold = 40
	DefaultTolerance              = 1
	DefaultSettledTolerance       = 5
	DefaultSettlingTime           = 250 * time.Millisecond
	DefaultSamplingInterval       = 5 * time.Millisecond
	DefaultFilterSize             = 15
	DefaultStopCommand            = 180
	DefaultKp                     = 0.4
	DefaultKi                     = 0.33
	DefaultKd                     = 0.05
)

type Config struct {
	MinPosition float64 `yaml:"min_position"`
	MaxPosition float64 `yaml:"max_position"`

	// Commands inside [center-size/2, center+size/2] do not turn the servo.
	DeadzoneCenter float64 `yaml:"deadzone_center"`
	DeadzoneSize   float64 `yaml:"deadzone_size"`

	SpeedMagnitude         float64 `yaml:"speed_magnitude"`
	BoundarySpeedMagnitude float64 `yaml:"boundary_speed_magnitude"`
	BoundaryOuterThreshold float64 `yaml:"boundary_outer_threshold"`
	BoundaryInnerThreshold float64 `yaml:"boundary_inner_threshold"`

	Tolerance        float64       `yaml:"tolerance"`
	SettledTolerance float64       `yaml:"settled_tolerance"`
	SettlingTime     time.Duration `yaml:"settling_time"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	FilterSize       int           `yaml:"filter_size"`
	StopCommand      float64       `yaml:"stop_command"`

	Gains control.Gains `yaml:"gains"`
}

func DefaultConfig() Config {
	return Config{
		MinPosition:            DefaultMinPosition,
		MaxPosition:            DefaultMaxPosition,
		DeadzoneCenter:         DefaultDeadzoneCenter,
		DeadzoneSize:           DefaultDeadzoneSize,
		SpeedMagnitude:         DefaultSpeedMagnitude,
		BoundarySpeedMagnitude: DefaultBoundarySpeedMagnitude,
		BoundaryOuterThreshold: DefaultBoundaryOuterThreshold,
		BoundaryInnerThreshold: DefaultBoundaryInnerThreshold,
		Tolerance:              DefaultTolerance,
		SettledTolerance:       DefaultSettledTolerance,
		SettlingTime:           DefaultSettlingTime,
		SamplingInterval:       DefaultSamplingInterval,
		FilterSize:             DefaultFilterSize,
		StopCommand:            DefaultStopCommand,
		Gains: control.Gains{
			Kp: DefaultKp,
			Ki: DefaultKi,
			Kd: DefaultKd,
		},
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinPosition >= c.MaxPosition:
		return fault.Configf("position domain [%v, %v] is empty", c.MinPosition, c.MaxPosition)
	case c.DeadzoneSize < 0:
		return fault.Configf("dead zone size must not be negative, got %v", c.DeadzoneSize)
	case c.SpeedMagnitude <= 0:
		return fault.Configf("speed magnitude must be positive, got %v", c.SpeedMagnitude)
	case c.BoundarySpeedMagnitude <= 0 || c.BoundarySpeedMagnitude > c.SpeedMagnitude:
		return fault.Configf("boundary speed %v must be in (0, %v]", c.BoundarySpeedMagnitude, c.SpeedMagnitude)
	case c.BoundaryOuterThreshold < 0 || c.BoundaryInnerThreshold <= c.BoundaryOuterThreshold:
		return fault.Configf("boundary thresholds need 0 <= outer < inner, got %v and %v",
			c.BoundaryOuterThreshold, c.BoundaryInnerThreshold)
	case c.Tolerance <= 0:
		return fault.Configf("tolerance must be positive, got %v", c.Tolerance)
	case c.SettledTolerance < c.Tolerance:
		return fault.Configf("settled tolerance %v is tighter than tolerance %v", c.SettledTolerance, c.Tolerance)
	case c.SamplingInterval <= 0:
		return fault.Configf("sampling interval must be positive, got %v", c.SamplingInterval)
	case c.SettlingWindow() < 1:
		return fault.Configf("settling time %v is shorter than one sampling interval", c.SettlingTime)
	case c.FilterSize <= 0:
		return fault.Configf("filter size must be positive, got %d", c.FilterSize)
	}
	return nil
}

// SettlingWindow is the number of consecutive in-tolerance ticks that count
// as settled.
func (c Config) SettlingWindow() int {
	if c.SamplingInterval <= 0 {
		return 0
	}
	return int(c.SettlingTime / c.SamplingInterval)
}

// Neutral is the highest command that still holds the servo still. PID
// outputs above it are shifted past the dead zone.
func (c Config) Neutral() float64 {
	return c.DeadzoneCenter - c.DeadzoneSize/2
}

// Midpoint is the target a freshly built controller aims for.
func (c Config) Midpoint() float64 {
	return math.Floor((c.MinPosition + c.MaxPosition) / 2)
}

// SpeedLimit returns the largest command magnitude allowed at distance d
// from an end of travel: the boundary speed inside the outer threshold, the
// full speed beyond the inner one and linear in between.
func (c Config) SpeedLimit(d float64) float64 {
	switch {
	case d <= c.BoundaryOuterThreshold:
		return c.BoundarySpeedMagnitude
	case d >= c.BoundaryInnerThreshold:
		return c.SpeedMagnitude
	}
	frac := (d - c.BoundaryOuterThreshold) / (c.BoundaryInnerThreshold - c.BoundaryOuterThreshold)
	return c.BoundarySpeedMagnitude + frac*(c.SpeedMagnitude-c.BoundarySpeedMagnitude)
}

// OutputBounds returns the PID output range to use at position.
func (c Config) OutputBounds(position float64) (lower, upper float64) {
	n := c.Neutral()
	return n - c.SpeedLimit(position-c.MinPosition), n + c.SpeedLimit(c.MaxPosition-position)
}
