package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/knobsuite/internal/knob"
)

// Summary describes every move one channel made.
type Summary struct {
	Channel       int     `json:"channel"`
	Moves         int     `json:"moves"`
	MeanTime      float64 `json:"meanTime"`
	StdTime       float64 `json:"stdTime"`
	MeanOvershoot float64 `json:"meanOvershoot"`
	StdOvershoot  float64 `json:"stdOvershoot"`
	MaxOvershoot  float64 `json:"maxOvershoot"`
	MeanTicks     float64 `json:"meanTicks"`
}

// Summarize groups logs by channel, in channel order. Standard deviations
// are zero for channels with fewer than two moves.
func Summarize(logs []knob.LogRecord) []Summary {
	byChannel := make(map[int][]knob.LogRecord)
	for _, rec := range logs {
		byChannel[rec.Channel] = append(byChannel[rec.Channel], rec)
	}

	channels := make([]int, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	out := make([]Summary, 0, len(channels))
	for _, ch := range channels {
		recs := byChannel[ch]
		times := make([]float64, len(recs))
		overshoots := make([]float64, len(recs))
		ticks := make([]float64, len(recs))
		for i, rec := range recs {
			times[i] = rec.ElapsedSeconds
			overshoots[i] = rec.Overshoot
			ticks[i] = float64(rec.Ticks)
		}

		s := Summary{
			Channel:      ch,
			Moves:        len(recs),
			MaxOvershoot: floats.Max(overshoots),
			MeanTicks:    stat.Mean(ticks, nil),
		}
		if len(recs) < 2 {
			s.MeanTime = times[0]
			s.MeanOvershoot = overshoots[0]
		} else {
			s.MeanTime, s.StdTime = stat.MeanStdDev(times, nil)
			s.MeanOvershoot, s.StdOvershoot = stat.MeanStdDev(overshoots, nil)
		}
		out = append(out, s)
	}
	return out
}

// TimeMatrix lays averaged transitions out on a grid. Rows are start
// setpoints and columns end setpoints, both sorted ascending; cells with no
// transition hold NaN.
func TimeMatrix(ts []Transition) (points []float64, m *mat.Dense) {
	seen := make(map[float64]bool)
	for _, t := range ts {
		seen[t.Start] = true
		seen[t.End] = true
	}
	points = make([]float64, 0, len(seen))
	for p := range seen {
		points = append(points, p)
	}
	sort.Float64s(points)
	if len(points) == 0 {
		return points, nil
	}

	index := make(map[float64]int, len(points))
	for i, p := range points {
		index[p] = i
	}
	data := make([]float64, len(points)*len(points))
	for i := range data {
		data[i] = math.NaN()
	}
	m = mat.NewDense(len(points), len(points), data)
	for _, t := range ts {
		m.Set(index[t.Start], index[t.End], t.Time)
	}
	return points, m
}
