package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"routeopt/internal/candidate"
	"routeopt/internal/cost"
	"routeopt/internal/network"
	"routeopt/internal/optimize"
	"routeopt/internal/rank"
)

func namedSnapshot(t *testing.T, midName string) *network.Snapshot {
	t.Helper()
	s, err := network.NewSnapshot(network.Data{
		Locations: []network.LocationSpec{
			{ID: "a", Name: "A", Lat: 10, Lng: 106},
			{ID: "b", Name: midName, Lat: 11, Lng: 106},
			{ID: "c", Name: "C", Lat: 12, Lng: 106},
		},
		Segments: []network.SegmentSpec{
			{ID: "ab", From: "a", To: "b", DistanceKm: 300, Hours: 5},
			{ID: "bc", From: "b", To: "c", DistanceKm: 300, Hours: 5},
		},
	})
	require.NoError(t, err)
	return s
}

func TestToResponseNamesFromRequestSnapshot(t *testing.T) {
	old := namedSnapshot(t, "Old B")
	nm := network.NewModel(old)
	a, _ := old.Location("a")
	c, _ := old.Location("c")
	ab, _ := old.LookupSegment("ab")
	bc, _ := old.LookupSegment("bc")

	res := &optimize.Result{
		RequestID:   "r1",
		Origin:      a,
		Destination: c,
		Snapshot:    old,
		Routes: []rank.Scored{{
			Candidate: &candidate.Candidate{ID: "a-c-1", Segments: []*network.Segment{ab, bc}, DistanceKm: 600},
			Schedule:  cost.Schedule{Rests: []cost.RestStop{{SegmentIndex: 1, LocationID: "b", DrivenHours: 4}}},
			Rank:      1,
		}},
	}
	require.NoError(t, nm.Reload(namedSnapshot(t, "New B")))

	out := toResponse(res)
	require.Len(t, out.Routes, 1)
	require.Equal(t, "Old B", out.Routes[0].RestStops[0].LocationName)
}

func TestToResponseMarksClampedCost(t *testing.T) {
	res := &optimize.Result{
		RequestID: "r2",
		Routes: []rank.Scored{
			{Candidate: &candidate.Candidate{ID: "x-1"}, Cost: cost.Breakdown{Driver: 10, Total: 10, Clamped: true}, Rank: 1},
			{Candidate: &candidate.Candidate{ID: "x-2"}, Cost: cost.Breakdown{Driver: 20, Total: 20}, Rank: 2},
		},
	}
	out := toResponse(res)
	require.True(t, out.Routes[0].Cost.Clamped)
	require.False(t, out.Routes[1].Cost.Clamped)
}
