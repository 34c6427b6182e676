// Package cost turns a candidate route and a vehicle profile into a priced,
// hours-of-service aware schedule.
package cost

import (
	"math"
	"time"

	"go.uber.org/zap"

	"routeopt/internal/candidate"
	"routeopt/internal/metrics"
	"routeopt/internal/vehicle"
)

// Prices are the monetary inputs, in VND.
type Prices struct {
	FuelPerLitre     float64
	DriverHourlyRate float64
	RestDuration     time.Duration
	// TollFees is the flat fee per toll segment for each toll class.
	TollFees map[int]float64
}

// Breakdown is the priced cost of one route. Every component is a whole
// number of currency units and Total is exactly their sum.
type Breakdown struct {
	Fuel    float64 `json:"fuel"`
	Tolls   float64 `json:"tolls"`
	Driver  float64 `json:"driver"`
	Total   float64 `json:"total"`
	Clamped bool    `json:"-"`
}

// RestStop is a mandatory break taken while driving Segments[SegmentIndex].
// EnRoute is false when the break falls at the segment's start, i.e. at
// LocationID; otherwise it is taken on the road after leaving LocationID.
type RestStop struct {
	SegmentIndex int
	LocationID   string
	DrivenHours  float64
	EnRoute      bool
}

// Schedule is the driving plan of a route including rests.
type Schedule struct {
	DrivingHours float64
	RestHours    float64
	TotalHours   float64
	Rests        []RestStop
}

type Model struct {
	prices Prices
	log    *zap.Logger
}

func NewModel(p Prices, log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}
	return &Model{prices: p, log: log}
}

// Plan schedules the route for the profile. Continuous driving never
// exceeds the profile's limit: a rest is taken each time it is reached, so a
// segment longer than the limit carries ceil((sinceBreak+h)/limit)-1 rests.
// A break that falls exactly on a segment boundary is taken at the town.
func Plan(c *candidate.Candidate, p vehicle.Profile, rest time.Duration) Schedule {
	var s Schedule
	restHours := rest.Hours()
	limit := p.MaxDrivingHours
	var sinceBreak float64
	for i, seg := range c.Segments {
		h := seg.DrivingHours(p.AvgSpeedKph)
		if limit > 0 {
			var into float64
			for sinceBreak+(h-into) > limit+epsilon {
				into += limit - sinceBreak
				s.Rests = append(s.Rests, RestStop{
					SegmentIndex: i,
					LocationID:   seg.From,
					DrivenHours:  s.DrivingHours + into,
					EnRoute:      into > epsilon,
				})
				s.RestHours += restHours
				sinceBreak = 0
			}
			sinceBreak += h - into
		}
		s.DrivingHours += h
	}
	s.TotalHours = s.DrivingHours + s.RestHours
	return s
}

// epsilon absorbs float drift so a leg ending exactly at the limit does not
// trigger a zero-length extra rest.
const epsilon = 1e-9

// Cost prices c for p. Negative intermediates, which only arise from bad
// configuration, are clamped to zero and the breakdown is marked Clamped.
func (m *Model) Cost(c *candidate.Candidate, p vehicle.Profile) (Breakdown, Schedule) {
	sched := Plan(c, p, m.prices.RestDuration)
	var b Breakdown
	clamp := func(name string, v float64) float64 {
		if v < 0 || math.IsNaN(v) {
			b.Clamped = true
			m.log.Warn("cost component clamped",
				zap.String("candidate", c.ID),
				zap.String("component", name),
				zap.Float64("value", v))
			return 0
		}
		return v
	}

	b.Fuel = math.Round(clamp("fuel", c.DistanceKm*p.FuelBurnLPerKm*m.prices.FuelPerLitre))

	fee := clamp("toll_fee", m.prices.TollFees[p.TollClass])
	for _, seg := range c.Segments {
		if seg.Toll {
			b.Tolls += fee
		}
	}
	b.Tolls = math.Round(b.Tolls)

	b.Driver = math.Round(clamp("driver", sched.TotalHours*m.prices.DriverHourlyRate))
	b.Total = b.Fuel + b.Tolls + b.Driver

	if b.Clamped {
		metrics.CostClamps.Inc()
	}
	return b, sched
}
