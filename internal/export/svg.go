package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/knobsuite/internal/storage"
)

var strokes = []string{"#5fffd7", "#ff87ff", "#ffd700", "#5fff00", "#ff5f5f", "#d0d0d0"}

// Bounds fixes the position axis. Time always spans the samples.
type Bounds struct {
	Min, Max float64
}

// TrajectorySVG draws the position of every channel over time, with its
// target as a dashed line underneath.
func TrajectorySVG(samples []storage.Sample, b Bounds, width, height int) string {
	if len(samples) < 2 || width <= 0 || height <= 0 {
		return ""
	}

	minT, maxT := samples[0].Time, samples[0].Time
	channels := 0
	for _, s := range samples {
		if s.Time < minT {
			minT = s.Time
		}
		if s.Time > maxT {
			maxT = s.Time
		}
		if s.Channel+1 > channels {
			channels = s.Channel + 1
		}
	}
	rangeT := maxT - minT
	if rangeT == 0 {
		rangeT = 1
	}
	rangeY := b.Max - b.Min
	if rangeY <= 0 {
		rangeY = 1
	}

	x := func(t float64) float64 { return (t - minT) / rangeT * float64(width) }
	y := func(v float64) float64 { return float64(height) - (v-b.Min)/rangeY*float64(height) }

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	for ch := 0; ch < channels; ch++ {
		series := storage.ChannelTrajectory(samples, ch)
		if len(series) < 2 {
			continue
		}
		color := strokes[ch%len(strokes)]

		var target, pos strings.Builder
		for i, s := range series {
			cmd := " L"
			if i == 0 {
				cmd = "M"
			}
			target.WriteString(fmt.Sprintf("%s%.1f,%.1f", cmd, x(s.Time), y(s.Target)))
			pos.WriteString(fmt.Sprintf("%s%.1f,%.1f", cmd, x(s.Time), y(s.Position)))
		}
		sb.WriteString(fmt.Sprintf(`<g id="knob%d">
<path fill="none" stroke="%s" stroke-width="1" stroke-dasharray="4 3" opacity="0.5" d="%s"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="%s"/>
</g>
`, ch, color, target.String(), color, pos.String()))
	}

	sb.WriteString("</svg>")
	return sb.String()
}
