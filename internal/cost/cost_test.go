package cost

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"routeopt/internal/candidate"
	"routeopt/internal/metrics"
	"routeopt/internal/network"
	"routeopt/internal/vehicle"
)

var truck = vehicle.Profile{Type: vehicle.Truck, FuelBurnLPerKm: 0.28, TollClass: 3, AvgSpeedKph: 60, MaxDrivingHours: 4}

func defaultPrices() Prices {
	return Prices{
		FuelPerLitre:     21000,
		DriverHourlyRate: 60000,
		RestDuration:     45 * time.Minute,
		TollFees:         map[int]float64{0: 0, 1: 35000, 2: 50000, 3: 90000, 4: 180000},
	}
}

func twoLegs() *candidate.Candidate {
	segs := []*network.Segment{
		{ID: "hcm-pt", From: "hcm", To: "phan-thiet", DistanceKm: 200, BaseHours: 4.5, Toll: true},
		{ID: "pt-nt", From: "phan-thiet", To: "nha-trang", DistanceKm: 215, BaseHours: 4.6, Toll: true},
	}
	return &candidate.Candidate{ID: "hcm-nha-trang-1", Order: 1, Segments: segs, DistanceKm: 415, DrivingHours: 9.1}
}

func TestPlanInsertsRestAtLimit(t *testing.T) {
	s := Plan(twoLegs(), truck, 45*time.Minute)
	require.InDelta(t, 9.1, s.DrivingHours, 1e-9)
	require.InDelta(t, 1.5, s.RestHours, 1e-9)
	require.InDelta(t, 10.6, s.TotalHours, 1e-9)
	require.Len(t, s.Rests, 2)

	require.Equal(t, 0, s.Rests[0].SegmentIndex)
	require.Equal(t, "hcm", s.Rests[0].LocationID)
	require.InDelta(t, 4.0, s.Rests[0].DrivenHours, 1e-9)
	require.True(t, s.Rests[0].EnRoute)

	require.Equal(t, 1, s.Rests[1].SegmentIndex)
	require.Equal(t, "phan-thiet", s.Rests[1].LocationID)
	require.InDelta(t, 8.0, s.Rests[1].DrivenHours, 1e-9)
	require.True(t, s.Rests[1].EnRoute)
}

func TestPlanSingleLegOverLimit(t *testing.T) {
	c := &candidate.Candidate{Segments: []*network.Segment{
		{ID: "ql14", From: "hcm", To: "bmt", DistanceKm: 350, BaseHours: 7.5},
	}}
	s := Plan(c, truck, 45*time.Minute)
	require.Len(t, s.Rests, 1)
	require.InDelta(t, 4.0, s.Rests[0].DrivenHours, 1e-9)
	require.InDelta(t, 8.25, s.TotalHours, 1e-9)
}

func TestPlanLegSpanningSeveralLimits(t *testing.T) {
	c := &candidate.Candidate{Segments: []*network.Segment{
		{ID: "a", From: "x", To: "y", DistanceKm: 60, BaseHours: 3},
		{ID: "long", From: "y", To: "z", DistanceKm: 600, BaseHours: 10},
	}}
	s := Plan(c, truck, time.Hour)
	// breaks at 4, 8 and 12 driven hours; 13 in total
	require.Len(t, s.Rests, 3)
	for i, want := range []float64{4, 8, 12} {
		require.Equal(t, 1, s.Rests[i].SegmentIndex)
		require.Equal(t, "y", s.Rests[i].LocationID)
		require.InDelta(t, want, s.Rests[i].DrivenHours, 1e-9)
	}
	require.InDelta(t, 16, s.TotalHours, 1e-9)
}

func TestPlanRestAtTownWhenLimitHitExactly(t *testing.T) {
	c := &candidate.Candidate{Segments: []*network.Segment{
		{ID: "a", From: "x", To: "y", DistanceKm: 240, BaseHours: 4},
		{ID: "b", From: "y", To: "z", DistanceKm: 60, BaseHours: 1},
	}}
	s := Plan(c, truck, 45*time.Minute)
	require.Len(t, s.Rests, 1)
	require.Equal(t, RestStop{SegmentIndex: 1, LocationID: "y", DrivenHours: 4}, s.Rests[0])
}

func TestPlanNeverExceedsLimit(t *testing.T) {
	for start := 0.5; start < 12; start += 0.7 {
		c := &candidate.Candidate{Segments: []*network.Segment{
			{ID: "a", DistanceKm: 10, BaseHours: start},
			{ID: "b", DistanceKm: 10, BaseHours: 9.3},
			{ID: "c", DistanceKm: 10, BaseHours: 2.2},
		}}
		s := Plan(c, truck, 45*time.Minute)
		last := 0.0
		for _, r := range s.Rests {
			require.LessOrEqual(t, r.DrivenHours-last, truck.MaxDrivingHours+1e-9)
			last = r.DrivenHours
		}
		require.LessOrEqual(t, s.DrivingHours-last, truck.MaxDrivingHours+1e-9)
	}
}

func TestPlanNoRestUnderLimit(t *testing.T) {
	c := &candidate.Candidate{Segments: []*network.Segment{
		{ID: "a", DistanceKm: 60, BaseHours: 1},
		{ID: "b", DistanceKm: 120, BaseHours: 2},
	}}
	s := Plan(c, truck, 45*time.Minute)
	require.Empty(t, s.Rests)
	require.InDelta(t, 3, s.TotalHours, 1e-9)
}

func TestCostBreakdown(t *testing.T) {
	b, sched := NewModel(defaultPrices(), zap.NewNop()).Cost(twoLegs(), truck)
	require.False(t, b.Clamped)
	require.Equal(t, 2440200.0, b.Fuel)
	require.Equal(t, 180000.0, b.Tolls)
	require.Equal(t, 636000.0, b.Driver)
	require.Equal(t, b.Fuel+b.Tolls+b.Driver, b.Total)
	require.Len(t, sched.Rests, 2)
}

func TestCostTotalIsExactSum(t *testing.T) {
	m := NewModel(Prices{FuelPerLitre: 21345.67, DriverHourlyRate: 61234.5, RestDuration: 37 * time.Minute, TollFees: map[int]float64{3: 12345.6}}, nil)
	for km := 1.0; km < 2000; km += 97.3 {
		c := &candidate.Candidate{
			ID:         "c",
			DistanceKm: km * 2,
			Segments: []*network.Segment{
				{ID: "s1", DistanceKm: km, BaseHours: km / 55, Toll: true},
				{ID: "s2", DistanceKm: km, BaseHours: km / 71},
			},
		}
		b, _ := m.Cost(c, truck)
		require.Equal(t, b.Fuel+b.Tolls+b.Driver, b.Total)
		require.GreaterOrEqual(t, b.Fuel, 0.0)
		require.GreaterOrEqual(t, b.Driver, 0.0)
	}
}

func TestCostClampsNegativeConfig(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := defaultPrices()
	p.FuelPerLitre = -100
	p.TollFees = map[int]float64{3: -5}

	before := testutil.ToFloat64(metrics.CostClamps)
	b, _ := NewModel(p, zap.New(core)).Cost(twoLegs(), truck)

	require.True(t, b.Clamped)
	require.Zero(t, b.Fuel)
	require.Zero(t, b.Tolls)
	require.Equal(t, 636000.0, b.Driver)
	require.Equal(t, b.Driver, b.Total)
	require.InDelta(t, before+1, testutil.ToFloat64(metrics.CostClamps), 1e-9)
	require.Equal(t, 2, logs.FilterMessage("cost component clamped").Len())
}

func TestUnknownTollClassCostsNothing(t *testing.T) {
	bike := vehicle.Profile{Type: vehicle.Motorbike, FuelBurnLPerKm: 0.03, TollClass: 9, AvgSpeedKph: 45, MaxDrivingHours: 4}
	b, _ := NewModel(defaultPrices(), nil).Cost(twoLegs(), bike)
	require.Zero(t, b.Tolls)
	require.False(t, b.Clamped)
}
