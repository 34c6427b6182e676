package rank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"routeopt/internal/candidate"
	"routeopt/internal/cost"
)

func route(order int, total, hours, adj float64) Scored {
	return Scored{
		Candidate:     &candidate.Candidate{ID: "c", Order: order},
		Cost:          cost.Breakdown{Total: total},
		DurationHours: hours,
		Adjustment:    adj,
	}
}

func orders(rs []Scored) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.Candidate.Order
	}
	return out
}

func TestRankStrictTotalOrder(t *testing.T) {
	in := []Scored{
		route(1, 5_000_000, 30, 0),
		route(2, 4_000_000, 32, 0.2),
		route(3, 4_000_000, 32, 0.2),
		route(4, 6_000_000, 28, -0.5),
	}
	out, err := Rank(in, DefaultWeights())
	require.NoError(t, err)
	require.Len(t, out, len(in))
	seen := map[int]bool{}
	for i, r := range out {
		require.Equal(t, i+1, r.Rank)
		require.False(t, seen[r.Rank])
		seen[r.Rank] = true
		if i > 0 {
			require.LessOrEqual(t, out[i-1].Score, r.Score)
		}
	}
	require.Equal(t, 0, in[0].Rank, "input must not be modified")
}

func TestRankLowerCostWinsAtEqualDuration(t *testing.T) {
	x := route(2, 3_000_000, 20, 0)
	y := route(1, 3_500_000, 20, 0)
	out, err := Rank([]Scored{y, x}, DefaultWeights())
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, orders(out))
}

func TestRankTiesFallBackToGenerationOrder(t *testing.T) {
	out, err := Rank([]Scored{route(3, 100, 1, 0), route(1, 100, 1, 0), route(2, 100, 1, 0)}, DefaultWeights())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, orders(out))
	for _, r := range out {
		require.Zero(t, r.Score, "degenerate ranges normalize to zero")
	}
}

func TestRankCostTieBreakBeforeDuration(t *testing.T) {
	// Risk-only weights make every score equal so the tie-breakers decide.
	w := Weights{Risk: 1}
	out, err := Rank([]Scored{route(1, 200, 1, 0), route(2, 100, 5, 0), route(3, 100, 2, 0)}, w)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 1}, orders(out))
}

func TestRankMonotonicInCost(t *testing.T) {
	base := []Scored{route(1, 1000, 10, 0.1), route(2, 1000, 10, 0.1), route(3, 1500, 8, 0)}
	out, err := Rank(base, DefaultWeights())
	require.NoError(t, err)
	before := position(out, 1)

	for _, extra := range []float64{1, 50, 499, 500, 501, 5000} {
		bumped := append([]Scored(nil), base...)
		bumped[0] = route(1, 1000+extra, 10, 0.1)
		out, err := Rank(bumped, DefaultWeights())
		require.NoError(t, err)
		require.GreaterOrEqual(t, position(out, 1), before, "extra=%v", extra)
		require.Greater(t, position(out, 1), position(out, 2), "extra=%v", extra)
	}
}

func TestRankAdjustmentBreaksCostTie(t *testing.T) {
	out, err := Rank([]Scored{route(1, 100, 1, 0.8), route(2, 100, 1, -0.2)}, DefaultWeights())
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, orders(out))
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	for _, w := range []Weights{{}, {Cost: -1, Time: 1}, {Cost: 1, Risk: -0.1}} {
		require.ErrorIs(t, w.Validate(), ErrInvalidWeights)
		_, err := Rank(nil, w)
		require.ErrorIs(t, err, ErrInvalidWeights)
	}
}

func TestRankEmpty(t *testing.T) {
	out, err := Rank(nil, DefaultWeights())
	require.NoError(t, err)
	require.Empty(t, out)
}

func position(rs []Scored, order int) int {
	for _, r := range rs {
		if r.Candidate.Order == order {
			return r.Rank
		}
	}
	return -1
}
