package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/control"
	"github.com/san-kum/knobsuite/internal/fault"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/plan"
	"github.com/san-kum/knobsuite/internal/sim"
)

const (
	DefaultChannels             = 2
	DefaultMode                 = "sequential"
	DefaultMaxTicks             = 20000
	DefaultRetryInitialInterval = 10 * time.Millisecond
	DefaultRetryMaxInterval     = time.Second
	DefaultExperimentRepeats    = 1
	DefaultRouteTimeout         = 5 * time.Second
	DefaultDemoInterval         = 3 * time.Second
	DefaultExperimentPause      = 2 * time.Second
)

type Config struct {
	Channels int    `yaml:"channels"`
	Mode     string `yaml:"mode"`
	// MaxTicks bounds a single move per channel; zero disables the bound.
	MaxTicks   int                  `yaml:"max_ticks"`
	Knob       knob.Config          `yaml:"knob"`
	Overrides  map[int]KnobOverride `yaml:"overrides,omitempty"`
	Retry      RetryConfig          `yaml:"retry"`
	Bus        bus.I2CConfig        `yaml:"bus"`
	Sim        sim.BenchConfig      `yaml:"sim"`
	Experiment ExperimentConfig     `yaml:"experiment"`
}

// KnobOverride replaces selected knob settings for one channel.
type KnobOverride struct {
	MinPosition    *float64       `yaml:"min_position,omitempty"`
	MaxPosition    *float64       `yaml:"max_position,omitempty"`
	DeadzoneCenter *float64       `yaml:"deadzone_center,omitempty"`
	DeadzoneSize   *float64       `yaml:"deadzone_size,omitempty"`
	SpeedMagnitude *float64       `yaml:"speed_magnitude,omitempty"`
	Tolerance      *float64       `yaml:"tolerance,omitempty"`
	Gains          *control.Gains `yaml:"gains,omitempty"`
}

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type ExperimentConfig struct {
	Regions      plan.Regions  `yaml:"regions"`
	Repeats      int           `yaml:"repeats"`
	Seed         int64         `yaml:"seed"`
	RouteTimeout time.Duration `yaml:"route_timeout"`
	// Pause is the rest between consecutive moves of an experiment.
	Pause time.Duration `yaml:"pause"`
	// AbortChannel is an ADC channel wired to a switch that ends the
	// experiment when it reads above 127. Negative disables it.
	AbortChannel int `yaml:"abort_channel"`
	// DemoInterval is the pause between random moves in demo mode.
	DemoInterval time.Duration `yaml:"demo_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: DefaultChannels,
		Mode:     DefaultMode,
		MaxTicks: DefaultMaxTicks,
		Knob:     knob.DefaultConfig(),
		Retry: RetryConfig{
			InitialInterval: DefaultRetryInitialInterval,
			MaxInterval:     DefaultRetryMaxInterval,
		},
		Bus: bus.DefaultI2CConfig(),
		Sim: sim.DefaultBenchConfig(DefaultChannels),
		Experiment: ExperimentConfig{
			Regions:      plan.DefaultRegions(),
			Repeats:      DefaultExperimentRepeats,
			Seed:         1,
			RouteTimeout: DefaultRouteTimeout,
			Pause:        DefaultExperimentPause,
			AbortChannel: -1,
			DemoInterval: DefaultDemoInterval,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// KnobConfig returns the shared knob settings with channel ch's overrides
// applied.
func (c *Config) KnobConfig(ch int) (knob.Config, error) {
	if ch < 0 || ch >= c.Channels {
		return knob.Config{}, fault.Configf("channel %d outside 0..%d", ch, c.Channels-1)
	}
	kc := c.Knob
	o, ok := c.Overrides[ch]
	if !ok {
		return kc, nil
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&kc.MinPosition, o.MinPosition)
	set(&kc.MaxPosition, o.MaxPosition)
	set(&kc.DeadzoneCenter, o.DeadzoneCenter)
	set(&kc.DeadzoneSize, o.DeadzoneSize)
	set(&kc.SpeedMagnitude, o.SpeedMagnitude)
	set(&kc.Tolerance, o.Tolerance)
	if o.Gains != nil {
		kc.Gains = *o.Gains
	}
	return kc, nil
}

// BenchConfig returns the simulator settings sized to the configured
// channel count and position domain.
func (c *Config) BenchConfig() sim.BenchConfig {
	bc := c.Sim
	bc.Channels = c.Channels
	bc.MinPosition = c.Knob.MinPosition
	bc.MaxPosition = c.Knob.MaxPosition
	if len(bc.Initial) > bc.Channels {
		bc.Initial = bc.Initial[:bc.Channels]
	}
	return bc
}

func (c *Config) Validate() error {
	if c.Channels <= 0 {
		return fault.Configf("channels must be positive, got %d", c.Channels)
	}
	if c.MaxTicks < 0 {
		return fault.Configf("max_ticks must not be negative, got %d", c.MaxTicks)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fault.Configf("retry intervals need 0 < initial <= max, got %v and %v",
			c.Retry.InitialInterval, c.Retry.MaxInterval)
	}
	if c.Experiment.Repeats <= 0 {
		return fault.Configf("experiment repeats must be positive, got %d", c.Experiment.Repeats)
	}
	if err := c.Experiment.Regions.Validate(); err != nil {
		return err
	}
	for ch := range c.Overrides {
		if ch < 0 || ch >= c.Channels {
			return fault.Configf("override for unknown channel %d", ch)
		}
	}
	for ch := 0; ch < c.Channels; ch++ {
		kc, _ := c.KnobConfig(ch)
		if err := kc.Validate(); err != nil {
			return err
		}
		if kc.SamplingInterval != c.Knob.SamplingInterval {
			return fault.Configf("channel %d: all channels share one sampling interval", ch)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Overrides != nil {
		out.Overrides = make(map[int]KnobOverride, len(c.Overrides))
		for k, v := range c.Overrides {
			out.Overrides[k] = v
		}
	}
	out.Bus.ADCControl = append([]byte(nil), c.Bus.ADCControl...)
	out.Sim.Initial = append([]float64(nil), c.Sim.Initial...)
	return &out
}
