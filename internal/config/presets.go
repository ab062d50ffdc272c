package config

import (
	"sort"
	"time"
)

func preset(modify func(c *Config)) *Config {
	c := DefaultConfig()
	modify(c)
	return c
}

var Presets = map[string]*Config{
	"default": DefaultConfig(),
	"gentle": preset(func(c *Config) {
		c.Knob.SpeedMagnitude = 15
		c.Knob.BoundarySpeedMagnitude = 2
	}),
	"precise": preset(func(c *Config) {
		c.Knob.Tolerance = 0.5
		c.Knob.SettledTolerance = 3
		c.Knob.SettlingTime = 500 * time.Millisecond
		c.Knob.FilterSize = 25
	}),
	"fast": preset(func(c *Config) {
		c.Knob.SpeedMagnitude = 35
		c.Knob.Tolerance = 1.5
		c.Knob.SettlingTime = 150 * time.Millisecond
		c.Mode = "interleaved"
	}),
	"trio": preset(func(c *Config) {
		c.Channels = 3
		c.Sim.Channels = 3
	}),
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
