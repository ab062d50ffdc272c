package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/san-kum/knobsuite/internal/tune"
	"github.com/san-kum/knobsuite/internal/tui"
)

func tuneCmd() *cobra.Command {
	var (
		kpRange string
		kiRange string
		kdRange string
		moves   string
		workers int
		top     int
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "grid search PID gains on the simulated bench",
		RunE: func(cmd *cobra.Command, args []string) error {
			ranges := make([][]float64, 3)
			for i, list := range []string{kpRange, kiRange, kdRange} {
				vs, err := parseList(list)
				if err != nil {
					return err
				}
				ranges[i] = vs
			}
			points, err := parseList(moves)
			if err != nil {
				return err
			}
			seq := make([][]float64, len(points))
			for i, p := range points {
				seq[i] = mirrored(env.cfg, p)
			}

			gs := tune.NewGridSearch([]string{tune.ParamKp, tune.ParamKi, tune.ParamKd}, ranges)
			gs.SetWorkers(workers)
			env.log.Info("tuning", "trials", len(gs.Combinations()), "moves", len(seq))

			res, err := gs.Search(cmd.Context(), tune.BenchObjective(env.cfg, seq, env.mode))
			if err != nil {
				return err
			}

			trials := make([]tune.Trial, 0, len(res.Trials))
			for _, t := range res.Trials {
				if t.Err == nil {
					trials = append(trials, t)
				}
			}
			sort.SliceStable(trials, func(i, j int) bool { return trials[i].Score < trials[j].Score })
			if top > 0 && len(trials) > top {
				trials = trials[:top]
			}

			rows := make([][]string, len(trials))
			for i, t := range trials {
				rows[i] = []string{
					strconv.Itoa(i + 1),
					fmt.Sprintf("%.3f", t.Params[tune.ParamKp]),
					fmt.Sprintf("%.3f", t.Params[tune.ParamKi]),
					fmt.Sprintf("%.3f", t.Params[tune.ParamKd]),
					fmt.Sprintf("%.4f", t.Score),
				}
			}
			fmt.Println(tui.Title("gain search"))
			fmt.Println(tui.Table([]string{"#", "KP", "KI", "KD", "SCORE"}, rows))
			if n := res.Failed(); n > 0 {
				fmt.Println(tui.Warn(fmt.Sprintf("%d of %d trials did not settle", n, len(res.Trials))))
			}
			fmt.Printf("best: --kp %g --ki %g --kd %g\n",
				res.Params[tune.ParamKp], res.Params[tune.ParamKi], res.Params[tune.ParamKd])
			return nil
		},
	}
	cmd.Flags().StringVar(&kpRange, "kp-range", "0.2,0.3,0.4,0.5,0.6", "comma separated kp values")
	cmd.Flags().StringVar(&kiRange, "ki-range", "0.2,0.33,0.5", "comma separated ki values")
	cmd.Flags().StringVar(&kdRange, "kd-range", "0,0.05,0.1", "comma separated kd values")
	cmd.Flags().StringVar(&moves, "moves", "50,205,127", "setpoints visited by every trial")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel trials (0 uses every CPU)")
	cmd.Flags().IntVar(&top, "top", 10, "trials to list")
	return cmd
}

func parseList(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", f, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list %q", s)
	}
	return out, nil
}
