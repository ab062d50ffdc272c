// Package tune searches PID gains on the simulated bench.
package tune

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrNoTrial means every parameter set failed to evaluate.
var ErrNoTrial = errors.New("tune: no parameter set could be evaluated")

// Objective scores one parameter set; lower is better.
type Objective func(ctx context.Context, params map[string]float64) (float64, error)

type Trial struct {
	Params map[string]float64
	Score  float64
	Err    error
}

type Result struct {
	Params map[string]float64
	Score  float64
	Trials []Trial
}

// Failed counts trials that returned an error.
func (r *Result) Failed() int {
	n := 0
	for _, t := range r.Trials {
		if t.Err != nil {
			n++
		}
	}
	return n
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{
		paramNames: params,
		ranges:     ranges,
		workers:    runtime.GOMAXPROCS(0),
	}
}

// SetWorkers bounds how many trials run at once.
func (g *GridSearch) SetWorkers(n int) {
	if n > 0 {
		g.workers = n
	}
}

// Combinations lists every point of the grid, last parameter varying
// fastest.
func (g *GridSearch) Combinations() []map[string]float64 {
	var out []map[string]float64
	g.combine(0, make(map[string]float64), &out)
	return out
}

func (g *GridSearch) combine(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		params := make(map[string]float64, len(current))
		for k, v := range current {
			params[k] = v
		}
		*out = append(*out, params)
		return
	}

	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[name] = val
		g.combine(depth+1, current, out)
	}
	delete(current, name)
}

// Search evaluates every combination and returns the lowest score. Failed
// trials are kept in the result but never win; ties go to the earlier
// combination.
func (g *GridSearch) Search(ctx context.Context, objective Objective) (*Result, error) {
	if len(g.paramNames) != len(g.ranges) {
		return nil, fmt.Errorf("tune: %d parameter names for %d ranges", len(g.paramNames), len(g.ranges))
	}

	combos := g.Combinations()
	trials := make([]Trial, len(combos))

	// Trial failures stay in trials; the group itself never fails.
	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, params := range combos {
		trials[i].Params = params
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				trials[i].Err = err
				return nil
			}
			trials[i].Score, trials[i].Err = objective(ctx, params)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Score: math.Inf(1), Trials: trials}
	var firstErr error
	for _, t := range trials {
		if t.Err != nil {
			if firstErr == nil {
				firstErr = t.Err
			}
			continue
		}
		if t.Score < res.Score {
			res.Score = t.Score
			res.Params = t.Params
		}
	}
	if res.Params == nil {
		if firstErr != nil {
			return res, fmt.Errorf("%w: %w", ErrNoTrial, firstErr)
		}
		return res, ErrNoTrial
	}
	return res, nil
}
