package tune

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/knobsuite/internal/config"
	"github.com/san-kum/knobsuite/internal/suite"
)

func TestCombinations(t *testing.T) {
	g := NewGridSearch([]string{"a", "b"}, [][]float64{{1, 2}, {10, 20, 30}})
	combos := g.Combinations()
	require.Len(t, combos, 6)
	assert.Equal(t, map[string]float64{"a": 1, "b": 10}, combos[0])
	assert.Equal(t, map[string]float64{"a": 1, "b": 20}, combos[1])
	assert.Equal(t, map[string]float64{"a": 2, "b": 30}, combos[5])
}

func TestSearchFindsMinimum(t *testing.T) {
	g := NewGridSearch([]string{"x", "y"}, [][]float64{{-1, 0, 1, 2}, {-2, 3}})
	g.SetWorkers(3)

	var calls atomic.Int32
	res, err := g.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		calls.Add(1)
		return (p["x"]-1)*(p["x"]-1) + (p["y"]-3)*(p["y"]-3), nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(8), calls.Load())
	assert.Equal(t, map[string]float64{"x": 1, "y": 3}, res.Params)
	assert.Zero(t, res.Score)
	assert.Len(t, res.Trials, 8)
	assert.Zero(t, res.Failed())
}

func TestSearchRespectsWorkerLimit(t *testing.T) {
	g := NewGridSearch([]string{"x"}, [][]float64{{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}})
	g.SetWorkers(2)

	var running, peak atomic.Int32
	res, err := g.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return p["x"], nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, res.Trials, 10)
	assert.Zero(t, res.Score)
}

func TestSearchSkipsFailedTrials(t *testing.T) {
	g := NewGridSearch([]string{"x"}, [][]float64{{0, 1, 2}})
	boom := errors.New("boom")
	res, err := g.Search(context.Background(), func(_ context.Context, p map[string]float64) (float64, error) {
		if p["x"] == 0 {
			return 0, boom
		}
		return p["x"], nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Params["x"])
	assert.Equal(t, 1, res.Failed())
	assert.ErrorIs(t, res.Trials[0].Err, boom)
}

func TestSearchAllFail(t *testing.T) {
	g := NewGridSearch([]string{"x"}, [][]float64{{0, 1}})
	boom := errors.New("boom")
	_, err := g.Search(context.Background(), func(context.Context, map[string]float64) (float64, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, ErrNoTrial)
	assert.ErrorIs(t, err, boom)
}

func TestSearchMismatchedRanges(t *testing.T) {
	g := NewGridSearch([]string{"x", "y"}, [][]float64{{0}})
	_, err := g.Search(context.Background(), func(context.Context, map[string]float64) (float64, error) {
		return 0, nil
	})
	assert.Error(t, err)
}

func TestSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGridSearch([]string{"x"}, [][]float64{{0, 1}})
	_, err := g.Search(ctx, func(ctx context.Context, _ map[string]float64) (float64, error) {
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBenchObjective(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels = 1
	obj := BenchObjective(cfg, [][]float64{{50}, {200}}, suite.Sequential)

	g := NewGridSearch([]string{ParamKp, ParamKi, ParamKd}, [][]float64{{0.3, 0.4}, {0.33, 0.5}, {0.05}})
	res, err := g.Search(context.Background(), obj)
	require.NoError(t, err)
	assert.Zero(t, res.Failed())
	assert.Len(t, res.Trials, 4)
	for _, tr := range res.Trials {
		assert.Greater(t, tr.Score, 0.0)
		assert.LessOrEqual(t, res.Score, tr.Score)
	}
	assert.Contains(t, []float64{0.3, 0.4}, res.Params[ParamKp])
	assert.Equal(t, 0.4, cfg.Knob.Gains.Kp, "the base config is left alone")
}

func TestBenchObjectiveUnknownParam(t *testing.T) {
	obj := BenchObjective(config.DefaultConfig(), [][]float64{{50, 205}}, suite.Interleaved)
	_, err := obj(context.Background(), map[string]float64{"gain": 1})
	assert.Error(t, err)
}
