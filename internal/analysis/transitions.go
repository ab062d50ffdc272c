package analysis

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/knobsuite/internal/knob"
)

var ErrMismatch = errors.New("analysis: runs disagree on transition order")

// MismatchError names the first transition at which a run differs from the
// first run.
type MismatchError struct {
	Run   int
	Index int
	Want  [2]float64
	Got   [2]float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: run %d transition %d is %v -> %v, want %v -> %v",
		ErrMismatch, e.Run, e.Index, e.Got[0], e.Got[1], e.Want[0], e.Want[1])
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// Transition is one start/end pair averaged over Samples runs.
type Transition struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Time      float64 `json:"time"`
	Overshoot float64 `json:"overshoot"`
	Samples   int     `json:"samples"`
}

// RemoveStationary returns the moves whose start and end setpoints differ.
func RemoveStationary(logs []knob.LogRecord) []knob.LogRecord {
	out := make([]knob.LogRecord, 0, len(logs))
	for _, rec := range logs {
		if !rec.Stationary() {
			out = append(out, rec)
		}
	}
	return out
}

// AverageTransitions averages elapsed time and overshoot index by index
// across runs. Every run must list the same transitions in the same order;
// on the first disagreement the averages gathered so far are returned with
// a *MismatchError.
func AverageTransitions(runs [][]knob.LogRecord) ([]Transition, error) {
	if len(runs) == 0 {
		return []Transition{}, nil
	}

	n := len(runs[0])
	out := make([]Transition, 0, n)
	times := make([]float64, len(runs))
	overshoots := make([]float64, len(runs))

	for i := 0; i < n; i++ {
		ref := runs[0][i]
		for r, run := range runs {
			if i >= len(run) {
				return out, &MismatchError{Run: r, Index: i, Want: [2]float64{ref.StartSetpoint, ref.EndSetpoint}}
			}
			rec := run[i]
			if rec.StartSetpoint != ref.StartSetpoint || rec.EndSetpoint != ref.EndSetpoint {
				return out, &MismatchError{
					Run:   r,
					Index: i,
					Want:  [2]float64{ref.StartSetpoint, ref.EndSetpoint},
					Got:   [2]float64{rec.StartSetpoint, rec.EndSetpoint},
				}
			}
			times[r] = rec.ElapsedSeconds
			overshoots[r] = rec.Overshoot
		}
		out = append(out, Transition{
			Start:     ref.StartSetpoint,
			End:       ref.EndSetpoint,
			Time:      stat.Mean(times, nil),
			Overshoot: stat.Mean(overshoots, nil),
			Samples:   len(runs),
		})
	}

	for r, run := range runs[1:] {
		if len(run) > n {
			extra := run[n]
			return out, &MismatchError{
				Run:   r + 1,
				Index: n,
				Got:   [2]float64{extra.StartSetpoint, extra.EndSetpoint},
			}
		}
	}
	return out, nil
}
