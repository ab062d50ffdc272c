package plan

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan is a generated experiment, ready to save or run.
type Plan struct {
	Regions     Regions      `yaml:"regions"`
	Points      []float64    `yaml:"points"`
	Transitions []Transition `yaml:"transitions"`
	Setpoints   []float64    `yaml:"setpoints"`
	// Repositions counts setpoints that only carry the knob to the start of
	// the next transition.
	Repositions int `yaml:"repositions"`
}

// Build generates the points of r and routes through all of their
// transitions. ctx bounds the time spent improving the route.
func Build(ctx context.Context, r Regions) (*Plan, error) {
	points, err := r.Points()
	if err != nil {
		return nil, err
	}
	ts := Transitions(points)
	cost := CostMatrix(ts)
	order := Route(ctx, cost)

	ordered := make([]Transition, len(order))
	for k, idx := range order {
		ordered[k] = ts[idx]
	}
	setpoints := Setpoints(ordered)
	return &Plan{
		Regions:     r,
		Points:      points,
		Transitions: ordered,
		Setpoints:   setpoints,
		Repositions: len(setpoints) - len(ordered) - 1,
	}, nil
}

func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if len(p.Setpoints) == 0 {
		p.Setpoints = Setpoints(p.Transitions)
	}
	return &p, nil
}

func Save(path string, p *Plan) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
