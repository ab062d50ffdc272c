package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/knobsuite/internal/analysis"
	"github.com/san-kum/knobsuite/internal/export"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/storage"
	"github.com/san-kum/knobsuite/internal/tui"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := env.store.List()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			rows := make([][]string, len(runs))
			for i, run := range runs {
				rows[i] = []string{
					run.ID,
					run.Name,
					run.Timestamp.Format("2006-01-02 15:04:05"),
					run.Backend,
					run.Mode,
					strconv.Itoa(run.Channels),
					strconv.Itoa(run.Moves),
					fmt.Sprintf("%.2f/%.2f/%.2f", run.Gains.Kp, run.Gains.Ki, run.Gains.Kd),
				}
			}
			fmt.Println(tui.Table([]string{"ID", "NAME", "TIME", "BACKEND", "MODE", "CH", "MOVES", "KP/KI/KD"}, rows))
			return nil
		},
	}
}

// loadRun reads everything stored for runID.
func loadRun(runID string) (*storage.Run, error) {
	meta, err := env.store.Load(runID)
	if err != nil {
		return nil, err
	}
	logs, err := env.store.LoadResults(runID)
	if err != nil {
		return nil, err
	}
	traj, err := env.store.LoadTrajectory(runID)
	if err != nil {
		return nil, err
	}
	return &storage.Run{Meta: *meta, Logs: logs, Trajectory: traj}, nil
}

func plotCmd() *cobra.Command {
	var svgPath string
	cmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot the knob positions of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := loadRun(args[0])
			if err != nil {
				return err
			}
			if len(run.Trajectory) == 0 {
				return fmt.Errorf("no data to plot")
			}

			fmt.Printf("run: %s\n", run.Meta.ID)
			fmt.Printf("mode: %s, %d moves\n", run.Meta.Mode, run.Meta.Moves)
			fmt.Printf("samples: %d\n\n", len(run.Trajectory))
			fmt.Println(trajectoryPlot(run.Trajectory, run.Meta.Channels, "position vs sample"))

			if svgPath == "" {
				return nil
			}
			kc, err := env.cfg.KnobConfig(0)
			if err != nil {
				return err
			}
			svg := export.TrajectorySVG(run.Trajectory, export.Bounds{Min: kc.MinPosition, Max: kc.MaxPosition}, 1200, 400)
			if err := os.WriteFile(svgPath, []byte(svg), 0644); err != nil {
				return err
			}
			fmt.Printf("\nwrote %s\n", svgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&svgPath, "svg", "", "also write the trajectory as svg to this file")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := loadRun(args[0])
			if err != nil {
				return err
			}
			return storage.ExportJSON(os.Stdout, run)
		},
	}
}

func analyzeCmd() *cobra.Command {
	var channel int
	cmd := &cobra.Command{
		Use:   "analyze [run_id...]",
		Short: "summarise stored runs; several runs of one plan are averaged",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs := make([]*storage.Run, len(args))
			for i, id := range args {
				run, err := loadRun(id)
				if err != nil {
					return err
				}
				runs[i] = run
			}

			all := make([]knob.LogRecord, 0)
			for _, run := range runs {
				for _, logs := range run.Logs {
					all = append(all, analysis.RemoveStationary(logs)...)
				}
			}
			fmt.Println(tui.Title(fmt.Sprintf("summary of %d runs", len(runs))))
			fmt.Println(summaryTable(analysis.Summarize(all)))

			fmt.Println()
			fmt.Println(tui.Title("hunting"))
			fmt.Println(huntingTable(runs[len(runs)-1]))

			perRun := make([][]knob.LogRecord, 0, len(runs))
			for _, run := range runs {
				if channel < len(run.Logs) {
					perRun = append(perRun, analysis.RemoveStationary(run.Logs[channel]))
				}
			}
			avg, err := analysis.AverageTransitions(perRun)
			var mismatch *analysis.MismatchError
			if errors.As(err, &mismatch) {
				fmt.Println(tui.Warn(fmt.Sprintf("runs diverge, keeping %d transitions: %v", len(avg), err)))
			} else if err != nil {
				return err
			}
			if len(avg) == 0 {
				return nil
			}

			fmt.Println()
			fmt.Println(tui.Title(fmt.Sprintf("knob%d transition times (s), start down, end across", channel)))
			fmt.Println(matrixTable(analysis.TimeMatrix(avg)))
			return nil
		},
	}
	cmd.Flags().IntVar(&channel, "channel", 0, "channel whose transitions are averaged across runs")
	return cmd
}

func summaryTable(sums []analysis.Summary) string {
	rows := make([][]string, len(sums))
	for i, s := range sums {
		rows[i] = []string{
			strconv.Itoa(s.Channel),
			strconv.Itoa(s.Moves),
			fmt.Sprintf("%.3f ± %.3f", s.MeanTime, s.StdTime),
			fmt.Sprintf("%.2f ± %.2f", s.MeanOvershoot, s.StdOvershoot),
			fmt.Sprintf("%.2f", s.MaxOvershoot),
			fmt.Sprintf("%.0f", s.MeanTicks),
		}
	}
	return tui.Table([]string{"CH", "MOVES", "TIME (s)", "OVERSHOOT", "MAX", "TICKS"}, rows)
}

// huntingTable reports the strongest oscillation of each knob's tracking
// error over the stored trajectory.
func huntingTable(run *storage.Run) string {
	rows := make([][]string, 0, run.Meta.Channels)
	for ch := 0; ch < run.Meta.Channels; ch++ {
		traj := storage.ChannelTrajectory(run.Trajectory, ch)
		if len(traj) < 4 {
			continue
		}
		dt := time.Duration((traj[1].Time - traj[0].Time) * float64(time.Second))
		errs := make([]float64, len(traj))
		for i, s := range traj {
			errs[i] = s.Position - s.Target
		}
		freq, amp := analysis.Hunting(errs, dt)
		rows = append(rows, []string{
			strconv.Itoa(ch),
			strconv.Itoa(len(traj)),
			fmt.Sprintf("%.2f Hz", freq),
			fmt.Sprintf("%.2f", amp),
		})
	}
	if len(rows) == 0 {
		return tui.Muted("no trajectory recorded")
	}
	return tui.Table([]string{"CH", "SAMPLES", "FREQ", "AMPLITUDE"}, rows)
}

func matrixTable(points []float64, m mat.Matrix) string {
	headers := make([]string, len(points)+1)
	headers[0] = "FROM \\ TO"
	for j, p := range points {
		headers[j+1] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	rows := make([][]string, len(points))
	for i, p := range points {
		row := make([]string, len(points)+1)
		row[0] = strconv.FormatFloat(p, 'f', -1, 64)
		for j := range points {
			v := m.At(i, j)
			if math.IsNaN(v) {
				row[j+1] = "-"
				continue
			}
			row[j+1] = fmt.Sprintf("%.2f", v)
		}
		rows[i] = row
	}
	return tui.Table(headers, rows)
}
