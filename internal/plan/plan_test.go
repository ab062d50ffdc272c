package plan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/knobsuite/internal/fault"
)

func TestDefaultPoints(t *testing.T) {
	points, err := DefaultRegions().Points()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 20, 30, 40, 215, 225, 235, 250}, points)
}

func TestPointsRoundHalfToEven(t *testing.T) {
	r := DefaultRegions()
	r.Outer, r.Padding, r.Central = 2, 3, 4

	points, err := r.Points()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 12, 20, 27, 33, 40, 98, 157, 215, 222, 228, 235, 243, 250}, points)
	assert.Len(t, Transitions(points), 182)
}

func TestPointsAreMirrored(t *testing.T) {
	r := DefaultRegions()
	r.Outer, r.Padding, r.Central = 3, 3, 4
	points, err := r.Points()
	require.NoError(t, err)
	for i, p := range points {
		assert.Equal(t, 255-p, points[len(points)-1-i])
	}
}

func TestRegionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *Regions)
	}{
		{"empty domain", func(r *Regions) { r.Max = r.Min }},
		{"edge below min", func(r *Regions) { r.ClosestToEdge = -1 }},
		{"outer below edge", func(r *Regions) { r.OuterThreshold = 2 }},
		{"inner below outer", func(r *Regions) { r.InnerThreshold = 10 }},
		{"no central band", func(r *Regions) { r.InnerThreshold = 130 }},
		{"negative count", func(r *Regions) { r.Padding = -1 }},
		{"too few points", func(r *Regions) { r.Outer, r.Padding, r.Central = 0, 0, 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRegions()
			tt.modify(&r)
			_, err := r.Points()
			assert.ErrorIs(t, err, fault.ErrConfiguration)
		})
	}
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float64{5}, linspace(5, 20, 1, false))
	assert.Equal(t, []float64{20, 30}, linspace(20, 40, 2, false))
	assert.Equal(t, []float64{40, 215}, linspace(40, 215, 2, true))
	assert.Equal(t, []float64{40}, linspace(40, 215, 1, true))
	assert.Nil(t, linspace(0, 1, 0, true))
}

func TestTransitions(t *testing.T) {
	ts := Transitions([]float64{1, 2, 3})
	assert.Equal(t, []Transition{
		{1, 2}, {1, 3}, {2, 1}, {2, 3}, {3, 1}, {3, 2},
	}, ts)
}

func TestCostMatrix(t *testing.T) {
	ts := []Transition{{50, 200}, {200, 50}, {50, 127}}
	m := CostMatrix(ts)
	require.NotNil(t, m)

	assert.Equal(t, 1.0, m.At(0, 0), "a transition never follows itself")
	assert.Equal(t, 0.0, m.At(0, 1), "200 -> 50 starts where 50 -> 200 ended")
	assert.Equal(t, 1.0, m.At(0, 2))
	assert.Equal(t, 0.0, m.At(1, 0))
	assert.Equal(t, 0.0, m.At(1, 2))
	assert.Equal(t, 1.0, m.At(2, 1))

	assert.Nil(t, CostMatrix(nil))
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}

func TestRouteImprovesOnNearestNeighbour(t *testing.T) {
	points, err := DefaultRegions().Points()
	require.NoError(t, err)
	ts := Transitions(points)
	cost := CostMatrix(ts)

	nn := nearestNeighbour(cost, len(ts))
	order := Route(context.Background(), cost)

	assert.True(t, isPermutation(order, len(ts)))
	assert.LessOrEqual(t, PathCost(cost, order), PathCost(cost, nn))
}

func TestRouteThreePointsNeedsNoRepositioning(t *testing.T) {
	ts := Transitions([]float64{50, 127, 200})
	cost := CostMatrix(ts)
	order := Route(context.Background(), cost)
	assert.True(t, isPermutation(order, len(ts)))
	assert.Zero(t, PathCost(cost, order))
}

func TestRouteStopsWhenContextDone(t *testing.T) {
	r := DefaultRegions()
	r.Outer, r.Padding, r.Central = 2, 3, 4
	points, err := r.Points()
	require.NoError(t, err)
	ts := Transitions(points)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	order := Route(ctx, CostMatrix(ts))
	assert.True(t, isPermutation(order, len(ts)))
}

func TestSetpoints(t *testing.T) {
	ts := []Transition{{50, 200}, {200, 127}, {50, 127}}
	assert.Equal(t, []float64{50, 200, 127, 50, 127}, Setpoints(ts))
	assert.Empty(t, Setpoints(nil))
}

func TestBuild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := Build(ctx, DefaultRegions())
	require.NoError(t, err)
	assert.Len(t, p.Points, 8)
	assert.Len(t, p.Transitions, 56)

	// every transition shows up as a consecutive pair of setpoints
	pairs := make(map[Transition]int)
	for i := 1; i < len(p.Setpoints); i++ {
		pairs[Transition{p.Setpoints[i-1], p.Setpoints[i]}]++
	}
	for _, tr := range Transitions(p.Points) {
		assert.GreaterOrEqual(t, pairs[tr], 1, "missing %v", tr)
	}
	assert.Equal(t, len(p.Setpoints)-len(p.Transitions)-1, p.Repositions)
}

func TestBuildInvalidRegions(t *testing.T) {
	r := DefaultRegions()
	r.Max = -1
	_, err := Build(context.Background(), r)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestSaveLoad(t *testing.T) {
	p, err := Build(context.Background(), DefaultRegions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, Save(path, p))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestLoadFillsSetpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, Save(path, &Plan{Transitions: []Transition{{5, 250}, {250, 5}}}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 250, 5}, loaded.Setpoints)
}
