package plan

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Transition is one move the experiment has to time.
type Transition struct {
	From float64 `yaml:"from" json:"from"`
	To   float64 `yaml:"to" json:"to"`
}

// Transitions returns every ordered pair of distinct points.
func Transitions(points []float64) []Transition {
	out := make([]Transition, 0, len(points)*(len(points)-1))
	for i, a := range points {
		for j, b := range points {
			if i != j {
				out = append(out, Transition{From: a, To: b})
			}
		}
	}
	return out
}

// CostMatrix holds, at (i, j), the number of repositioning moves needed to
// run transition j straight after transition i: zero when i ends where j
// starts, one otherwise.
func CostMatrix(ts []Transition) *mat.Dense {
	n := len(ts)
	if n == 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i, a := range ts {
		for j, b := range ts {
			if i == j || a.To != b.From {
				m.Set(i, j, 1)
			}
		}
	}
	return m
}

// PathCost sums the cost of running the transitions in order.
func PathCost(cost mat.Matrix, order []int) float64 {
	total := 0.0
	for k := 1; k < len(order); k++ {
		total += cost.At(order[k-1], order[k])
	}
	return total
}

// Route orders the transitions of a cost matrix as an open path. It starts
// from a nearest-neighbour tour beginning at transition 0 and improves it
// with 2-opt segment reversals until no reversal helps or ctx is done, then
// returns the best order found.
func Route(ctx context.Context, cost mat.Matrix) []int {
	n, _ := cost.Dims()
	order := nearestNeighbour(cost, n)
	if n < 4 {
		return order
	}

	best := PathCost(cost, order)
	trial := make([]int, n)
	for improved := true; improved && best > 0; {
		improved = false
		for i := 1; i < n-1 && !improved; i++ {
			if ctx.Err() != nil {
				return order
			}
			for j := i + 1; j < n; j++ {
				copy(trial, order)
				reverse(trial[i : j+1])
				if c := PathCost(cost, trial); c < best {
					copy(order, trial)
					best = c
					improved = true
					break
				}
			}
		}
	}
	return order
}

func nearestNeighbour(cost mat.Matrix, n int) []int {
	order := make([]int, 0, n)
	if n == 0 {
		return order
	}
	visited := make([]bool, n)
	cur := 0
	visited[cur] = true
	order = append(order, cur)
	for len(order) < n {
		next := -1
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			if next < 0 || cost.At(cur, j) < cost.At(cur, next) {
				next = j
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = next
	}
	return order
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Setpoints flattens ordered transitions into the positions to visit,
// inserting a repositioning move wherever one transition does not start
// where the previous one ended.
func Setpoints(ts []Transition) []float64 {
	out := make([]float64, 0, len(ts)+1)
	for i, t := range ts {
		if i == 0 || out[len(out)-1] != t.From {
			out = append(out, t.From)
		}
		out = append(out, t.To)
	}
	return out
}
