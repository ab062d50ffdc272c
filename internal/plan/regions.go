// Package plan generates experiment plans: the setpoints worth testing and
// an order to visit every transition between them with as few extra moves
// as possible.
package plan

import (
	"math"

	"github.com/san-kum/knobsuite/internal/fault"
)

// Regions splits the lower half of the position domain into bands and says
// how many test points each band gets. The upper half mirrors the lower.
type Regions struct {
	Min            float64 `yaml:"min"`
	Max            float64 `yaml:"max"`
	ClosestToEdge  float64 `yaml:"closest_to_edge"`
	OuterThreshold float64 `yaml:"outer_threshold"`
	InnerThreshold float64 `yaml:"inner_threshold"`
	Outer          int     `yaml:"outer"`
	Padding        int     `yaml:"padding"`
	Central        int     `yaml:"central"`
}

func DefaultRegions() Regions {
	return Regions{
		Min:            0,
		Max:            255,
		ClosestToEdge:  5,
		OuterThreshold: 20,
		InnerThreshold: 40,
		Outer:          1,
		Padding:        2,
		Central:        2,
	}
}

func (r Regions) Validate() error {
	switch {
	case r.Min >= r.Max:
		return fault.Configf("plan domain [%v, %v] is empty", r.Min, r.Max)
	case r.ClosestToEdge < r.Min:
		return fault.Configf("closest_to_edge %v below domain minimum %v", r.ClosestToEdge, r.Min)
	case r.OuterThreshold < r.ClosestToEdge:
		return fault.Configf("outer_threshold %v below closest_to_edge %v", r.OuterThreshold, r.ClosestToEdge)
	case r.InnerThreshold < r.OuterThreshold:
		return fault.Configf("inner_threshold %v below outer_threshold %v", r.InnerThreshold, r.OuterThreshold)
	case r.InnerThreshold >= r.mirror(r.InnerThreshold):
		return fault.Configf("inner_threshold %v leaves no central band", r.InnerThreshold)
	case r.Outer < 0 || r.Padding < 0 || r.Central < 0:
		return fault.Configf("region counts must not be negative, got %d/%d/%d", r.Outer, r.Padding, r.Central)
	case 2*(r.Outer+r.Padding)+r.Central < 2:
		return fault.Configf("a plan needs at least two points")
	}
	return nil
}

func (r Regions) mirror(p float64) float64 {
	return r.Max - (p - r.Min)
}

// Points returns the test setpoints in ascending order: the outer and
// padding bands, the central band, then the mirrored outer bands.
// Duplicates produced by rounding are dropped.
func (r Regions) Points() ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var lower []float64
	for _, p := range linspace(r.ClosestToEdge, r.OuterThreshold, r.Outer, false) {
		lower = append(lower, math.RoundToEven(p))
	}
	for _, p := range linspace(r.OuterThreshold, r.InnerThreshold, r.Padding, false) {
		lower = append(lower, math.RoundToEven(p))
	}

	points := append([]float64(nil), lower...)
	for _, p := range linspace(r.InnerThreshold, r.mirror(r.InnerThreshold), r.Central, true) {
		points = append(points, math.RoundToEven(p))
	}
	for i := len(lower) - 1; i >= 0; i-- {
		points = append(points, r.mirror(lower[i]))
	}
	return dedup(points), nil
}

// linspace matches numpy: n evenly spaced values from a, ending at b when
// endpoint is set.
func linspace(a, b float64, n int, endpoint bool) []float64 {
	if n <= 0 {
		return nil
	}
	div := float64(n)
	if endpoint {
		if n == 1 {
			return []float64{a}
		}
		div = float64(n - 1)
	}
	step := (b - a) / div
	out := make([]float64, n)
	for i := range out {
		out[i] = a + float64(i)*step
	}
	return out
}

func dedup(points []float64) []float64 {
	seen := make(map[float64]bool, len(points))
	out := points[:0]
	for _, p := range points {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
