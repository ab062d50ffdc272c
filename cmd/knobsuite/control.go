package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/knobsuite/internal/config"
	"github.com/san-kum/knobsuite/internal/experiment"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/metrics"
	"github.com/san-kum/knobsuite/internal/plan"
	"github.com/san-kum/knobsuite/internal/storage"
	"github.com/san-kum/knobsuite/internal/suite"
	"github.com/san-kum/knobsuite/internal/tui"
)

// abortThreshold is the ADC reading above which the abort switch counts
// as thrown.
const abortThreshold = 127

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [setpoint...]",
		Short: "move the knobs to setpoints",
		Long: "Move every knob to its setpoint and report each move. A single\n" +
			"setpoint is mirrored across the knobs; otherwise give one per knob.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return moveKnobs(cmd.Context(), backend, args, false)
		},
	}
}

func simCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sim [setpoint...]",
		Short: "move simulated knobs and plot the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return moveKnobs(cmd.Context(), "sim", args, true)
		},
	}
}

func moveKnobs(ctx context.Context, name string, args []string, plot bool) error {
	setpoints, err := parseSetpoints(args)
	if err != nil {
		return err
	}
	if len(setpoints) == 1 {
		setpoints = mirrored(env.cfg, setpoints[0])
	}

	r, err := openRig(name)
	if err != nil {
		return err
	}
	traj := experiment.NewTrajectory(r.clk, 1)
	if err := r.build(suite.WithObserver(traj)); err != nil {
		r.shutdown()
		return err
	}
	defer r.shutdown()

	runner := experiment.New(r.suite, env.mode, experiment.WithLogger(env.log.WithName("run")))
	start := time.Now()
	logs, err := runner.Move(ctx, setpoints)
	if err != nil {
		return err
	}

	fmt.Println(tui.Title(fmt.Sprintf("moved %d knobs in %v (%s)", len(setpoints), time.Since(start).Round(time.Millisecond), env.mode)))
	fmt.Println(moveTable(flatten(logs)))

	if plot {
		fmt.Println()
		fmt.Println(trajectoryPlot(traj.Samples(), r.suite.Len(), "position vs tick"))
	}
	return nil
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop every servo",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openSuite(backend)
			if err != nil {
				return err
			}
			if err := r.suite.StopAll(cmd.Context()); err != nil {
				r.shutdown()
				return err
			}
			if err := r.close(); err != nil {
				return err
			}
			fmt.Printf("stopped %d servos\n", r.suite.Len())
			return nil
		},
	}
}

func liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "drive the knobs from an interactive terminal view",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRig(backend)
			if err != nil {
				return err
			}
			feed := tui.NewFeed(env.cfg.Channels, 256)
			if err := r.build(suite.WithObserver(feed)); err != nil {
				r.shutdown()
				return err
			}
			defer r.shutdown()

			rng := rand.New(rand.NewSource(env.cfg.Experiment.Seed))
			next := func() []float64 { return mirrored(env.cfg, randomSetpoint(env.cfg, rng)) }
			return tui.RunLive(tui.NewLive(cmd.Context(), r.suite, env.mode, feed, next))
		},
	}
}

func demoCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "move the knobs to a random setpoint at a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			r, err := openSuite(backend)
			if err != nil {
				return err
			}
			defer r.shutdown()

			log := env.log.WithName("demo")
			runner := experiment.New(r.suite, env.mode, experiment.WithLogger(log))
			rng := rand.New(rand.NewSource(env.cfg.Experiment.Seed))

			done := 0
			s := gocron.NewScheduler(time.UTC)
			s.SingletonModeAll()
			_, err = s.Every(env.cfg.Experiment.DemoInterval).Do(func() {
				logs, err := runner.RandomMove(ctx, rng)
				if err != nil {
					if ctx.Err() == nil {
						log.Error(err, "random move failed")
					}
					cancel()
					return
				}
				fmt.Println(moveTable(flatten(logs)))
				done++
				if count > 0 && done >= count {
					cancel()
				}
			})
			if err != nil {
				return err
			}

			log.Info("demo started", "interval", env.cfg.Experiment.DemoInterval.String())
			s.StartAsync()
			<-ctx.Done()
			s.Stop()
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many moves (0 runs until interrupted)")
	return cmd
}

func experimentCmd() *cobra.Command {
	var (
		planFile    string
		name        string
		sampleEvery int
	)
	cmd := &cobra.Command{
		Use:   "experiment",
		Short: "run a transition plan and store the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := env.cfg

			p, err := loadOrBuildPlan(ctx, planFile)
			if err != nil {
				return err
			}

			r, err := openRig(backend)
			if err != nil {
				return err
			}
			effort := metrics.NewControlEffort(cfg.Knob.Neutral(), cfg.Knob.StopCommand)
			traj := experiment.NewTrajectory(r.clk, sampleEvery,
				metrics.NewTrackingError(), metrics.NewInBand(cfg.Knob.SettledTolerance), effort)
			if err := r.build(suite.WithObserver(traj)); err != nil {
				r.shutdown()
				return err
			}
			defer r.shutdown()

			if err := env.store.Init(); err != nil {
				return err
			}

			opts := []experiment.Option{
				experiment.WithLogger(env.log.WithName("experiment")),
				experiment.WithPause(cfg.Experiment.Pause),
				experiment.WithTrajectory(traj),
				experiment.WithMetadata(storage.RunMetadata{
					Name:    name,
					Backend: backend,
					Seed:    cfg.Experiment.Seed,
				}),
			}
			if ch := cfg.Experiment.AbortChannel; ch >= 0 {
				opts = append(opts, experiment.WithAbort(experiment.SwitchAbort(r.drv, ch, abortThreshold, r.suite)))
			}
			runner := experiment.New(r.suite, env.mode, opts...)

			fmt.Printf("running %d setpoints (%d transitions, %d repositions) x%d\n",
				len(p.Setpoints), len(p.Transitions), p.Repositions, cfg.Experiment.Repeats)

			for i := 0; i < cfg.Experiment.Repeats; i++ {
				run, err := runner.Run(ctx, p)
				aborted := errors.Is(err, experiment.ErrAborted)
				if err != nil && !aborted {
					return fmt.Errorf("repeat %d: %w", i+1, err)
				}
				if run.Meta.Moves > 0 {
					runID, err := env.store.Save(run)
					if err != nil {
						return err
					}
					fmt.Printf("run id: %s (%d moves)\n", runID, run.Meta.Moves)
				}
				if aborted {
					fmt.Println(tui.Warn("aborted by switch"))
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "plan file (yaml); generated from the configured regions when empty")
	cmd.Flags().StringVar(&name, "name", "experiment", "run name")
	cmd.Flags().IntVar(&sampleEvery, "sample-every", 1, "keep every n-th tick in the stored trajectory")
	return cmd
}

func loadOrBuildPlan(ctx context.Context, path string) (*plan.Plan, error) {
	if path != "" {
		return plan.Load(path)
	}
	ctx, cancel := context.WithTimeout(ctx, env.cfg.Experiment.RouteTimeout)
	defer cancel()
	return plan.Build(ctx, env.cfg.Experiment.Regions)
}

func planCmd() *cobra.Command {
	var outer, padding, central int
	cmd := &cobra.Command{
		Use:   "plan [file]",
		Short: "generate an experiment plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regions := env.cfg.Experiment.Regions
			if cmd.Flags().Changed("outer") {
				regions.Outer = outer
			}
			if cmd.Flags().Changed("padding") {
				regions.Padding = padding
			}
			if cmd.Flags().Changed("central") {
				regions.Central = central
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), env.cfg.Experiment.RouteTimeout)
			defer cancel()
			start := time.Now()
			p, err := plan.Build(ctx, regions)
			if err != nil {
				return err
			}

			fmt.Println(tui.Title("experiment plan"))
			fmt.Printf("points:      %s\n", joinFloats(p.Points))
			fmt.Printf("transitions: %d\n", len(p.Transitions))
			fmt.Printf("setpoints:   %d (%d repositions)\n", len(p.Setpoints), p.Repositions)
			fmt.Printf("routed in:   %v\n", time.Since(start).Round(time.Millisecond))

			path := filepath.Join(dataDir, "plan.yaml")
			if len(args) == 1 {
				path = args[0]
			} else if err := os.MkdirAll(dataDir, 0755); err != nil {
				return err
			}
			if err := plan.Save(path, p); err != nil {
				return err
			}
			fmt.Printf("saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().IntVar(&outer, "outer", 0, "points in each outer region")
	cmd.Flags().IntVar(&padding, "padding", 0, "points in each padding region")
	cmd.Flags().IntVar(&central, "central", 0, "points in the central region")
	return cmd
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0)
			for _, name := range config.ListPresets() {
				p := config.GetPreset(name)
				rows = append(rows, []string{
					name,
					strconv.Itoa(p.Channels),
					p.Mode,
					fmt.Sprintf("%.2f/%.2f/%.2f", p.Knob.Gains.Kp, p.Knob.Gains.Ki, p.Knob.Gains.Kd),
					fmt.Sprintf("%.0f", p.Knob.SpeedMagnitude),
					fmt.Sprintf("%.1f/%.1f", p.Knob.Tolerance, p.Knob.SettledTolerance),
					p.Knob.SettlingTime.String(),
				})
			}
			fmt.Println(tui.Table([]string{"PRESET", "CH", "MODE", "KP/KI/KD", "SPEED", "TOL", "SETTLE"}, rows))
			return nil
		},
	}
}

func parseSetpoints(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("setpoint %q: %w", a, err)
		}
		out[i] = v
	}
	return out, nil
}

// mirrored spreads p over the configured channels: even channels get p, odd
// ones its reflection about the middle of their domain.
func mirrored(cfg *config.Config, p float64) []float64 {
	out := make([]float64, cfg.Channels)
	for ch := range out {
		kc, _ := cfg.KnobConfig(ch)
		if ch%2 == 0 {
			out[ch] = p
		} else {
			out[ch] = kc.MaxPosition - (p - kc.MinPosition)
		}
	}
	return out
}

func randomSetpoint(cfg *config.Config, rng *rand.Rand) float64 {
	kc, _ := cfg.KnobConfig(0)
	lo := int(kc.MinPosition) + experiment.EdgeMargin
	hi := int(kc.MaxPosition) - experiment.EdgeMargin
	return float64(lo + rng.Intn(hi-lo+1))
}

func flatten(logs [][]knob.LogRecord) []knob.LogRecord {
	out := make([]knob.LogRecord, 0)
	for _, ch := range logs {
		out = append(out, ch...)
	}
	return out
}

func moveTable(logs []knob.LogRecord) string {
	rows := make([][]string, len(logs))
	for i, rec := range logs {
		rows[i] = []string{
			strconv.Itoa(rec.Channel),
			fmt.Sprintf("%.0f", rec.StartSetpoint),
			fmt.Sprintf("%.0f", rec.EndSetpoint),
			fmt.Sprintf("%.3fs", rec.ElapsedSeconds),
			fmt.Sprintf("%.2f", rec.Overshoot),
			fmt.Sprintf("%.1f..%.1f", rec.MinSpeed, rec.MaxSpeed),
			strconv.Itoa(rec.Ticks),
		}
	}
	return tui.Table([]string{"CH", "FROM", "TO", "TIME", "OVERSHOOT", "CMD", "TICKS"}, rows)
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

var seriesColors = []asciigraph.AnsiColor{asciigraph.Cyan, asciigraph.Magenta, asciigraph.Gold, asciigraph.Green}

func trajectoryPlot(samples []storage.Sample, channels int, caption string) string {
	series := make([][]float64, 0, channels)
	legends := make([]string, 0, channels)
	colors := make([]asciigraph.AnsiColor, 0, channels)
	for ch := 0; ch < channels; ch++ {
		traj := storage.ChannelTrajectory(samples, ch)
		if len(traj) == 0 {
			continue
		}
		pos := make([]float64, len(traj))
		for i, s := range traj {
			pos[i] = s.Position
		}
		series = append(series, pos)
		legends = append(legends, fmt.Sprintf("knob%d", ch))
		colors = append(colors, seriesColors[ch%len(seriesColors)])
	}
	if len(series) == 0 {
		return tui.Muted("no trajectory recorded")
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
		asciigraph.SeriesLegends(legends...),
	)
}
