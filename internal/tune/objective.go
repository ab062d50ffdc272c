package tune

import (
	"context"
	"fmt"

	"github.com/san-kum/knobsuite/internal/config"
	"github.com/san-kum/knobsuite/internal/experiment"
	"github.com/san-kum/knobsuite/internal/sim"
	"github.com/san-kum/knobsuite/internal/suite"
)

// Gain parameter names understood by BenchObjective.
const (
	ParamKp = "kp"
	ParamKi = "ki"
	ParamKd = "kd"
)

// OvershootWeight converts position units of overshoot into seconds of
// score.
const OvershootWeight = 0.05

// BenchObjective runs the setpoint sequence moves on a fresh simulated
// bench for every trial. The score is the mean settle time in seconds plus
// OvershootWeight times the mean overshoot. A move that does not settle
// within the configured tick budget fails the trial.
func BenchObjective(base *config.Config, moves [][]float64, mode suite.Mode) Objective {
	return func(ctx context.Context, params map[string]float64) (float64, error) {
		cfg := base.Clone()
		for name, v := range params {
			switch name {
			case ParamKp:
				cfg.Knob.Gains.Kp = v
			case ParamKi:
				cfg.Knob.Gains.Ki = v
			case ParamKd:
				cfg.Knob.Gains.Kd = v
			default:
				return 0, fmt.Errorf("tune: unknown parameter %q", name)
			}
		}

		bench, err := sim.NewBench(cfg.BenchConfig())
		if err != nil {
			return 0, err
		}
		s, err := suite.Build(cfg, bench, bench)
		if err != nil {
			return 0, err
		}
		runner := experiment.New(s, mode)

		var seconds, overshoot float64
		n := 0
		for _, sp := range moves {
			logs, err := runner.Move(ctx, sp)
			if err != nil {
				return 0, err
			}
			for _, ch := range logs {
				for _, rec := range ch {
					seconds += rec.ElapsedSeconds
					overshoot += rec.Overshoot
					n++
				}
			}
		}
		if n == 0 {
			return 0, nil
		}
		return seconds/float64(n) + OvershootWeight*overshoot/float64(n), nil
	}
}
