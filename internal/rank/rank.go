// Package rank orders scored route candidates by a weighted composite of
// normalized cost, normalized duration and prediction risk.
package rank

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"routeopt/internal/candidate"
	"routeopt/internal/cost"
	"routeopt/internal/prediction"
)

var ErrInvalidWeights = errors.New("rank: invalid weights")

type Weights struct {
	Cost float64 `json:"cost"`
	Time float64 `json:"time"`
	Risk float64 `json:"risk"`
}

func DefaultWeights() Weights { return Weights{Cost: 0.5, Time: 0.3, Risk: 0.2} }

// Validate requires finite, non-negative weights that are not all zero.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Cost, w.Time, w.Risk} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidWeights, w)
		}
	}
	if w.Cost+w.Time+w.Risk <= 0 {
		return fmt.Errorf("%w: all zero", ErrInvalidWeights)
	}
	return nil
}

// Scored is one candidate after costing and prediction adjustment. Score and
// Rank are filled in by Rank.
type Scored struct {
	Candidate     *candidate.Candidate
	Cost          cost.Breakdown
	Schedule      cost.Schedule
	DurationHours float64
	Adjustment    float64
	// Signals are the usable prediction signals behind Adjustment.
	Signals []prediction.Signal
	Score   float64
	Rank    int
}

// Rank scores and orders routes, best first, and assigns ranks 1..n. Costs and
// durations are min-max normalized within this call only; a set where every
// value is equal normalizes to 0. Ties fall back to lower cost, then lower
// duration, then generation order. The input slice is not modified.
func Rank(routes []Scored, w Weights) ([]Scored, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	out := make([]Scored, len(routes))
	copy(out, routes)
	if len(out) == 0 {
		return out, nil
	}

	costs := make([]float64, len(out))
	hours := make([]float64, len(out))
	for i := range out {
		costs[i] = out[i].Cost.Total
		hours[i] = out[i].DurationHours
	}
	normCost := minMax(costs)
	normHours := minMax(hours)
	for i := range out {
		out[i].Score = normCost[i]*w.Cost + normHours[i]*w.Time + out[i].Adjustment*w.Risk
	}

	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func less(a, b *Scored) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.Cost.Total != b.Cost.Total {
		return a.Cost.Total < b.Cost.Total
	}
	if a.DurationHours != b.DurationHours {
		return a.DurationHours < b.DurationHours
	}
	return a.Candidate.Order < b.Candidate.Order
}

func minMax(vs []float64) []float64 {
	lo, hi := vs[0], vs[0]
	for _, v := range vs[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(vs))
	if hi-lo == 0 {
		return out
	}
	for i, v := range vs {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
