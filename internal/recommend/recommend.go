// Package recommend derives operational advice from a ranked route set.
package recommend

import (
	"fmt"
	"math"
	"time"

	"routeopt/internal/network"
	"routeopt/internal/prediction"
	"routeopt/internal/rank"
	"routeopt/internal/vehicle"
)

// Options are the rule thresholds.
type Options struct {
	// AltCostThreshold is the relative cost gap below which the top two
	// routes are considered interchangeable on cost.
	AltCostThreshold float64
	// PeakMagnitude is the traffic magnitude treated as peak congestion when
	// a signal does not say so itself.
	PeakMagnitude float64
}

func DefaultOptions() Options { return Options{AltCostThreshold: 0.05, PeakMagnitude: 0.6} }

// Window is the caller's acceptable departure interval.
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// Inputs carry request context the rules need.
type Inputs struct {
	Window  *Window
	Options Options
	// Name returns a display name for a location ID. Nil uses the ID.
	Name func(locationID string) string
}

type rule func(routes []rank.Scored, p vehicle.Profile, in Inputs) (string, bool)

var rules = []rule{earlyDeparture, restStop, alternateRoute, trafficAvoidance}

// Synthesize applies the rules in order to the best route and returns the
// advice of every rule that fires. It never fails; an empty route set or no
// applicable rule yields an empty slice.
func Synthesize(routes []rank.Scored, p vehicle.Profile, in Inputs) []string {
	out := []string{}
	if len(routes) == 0 || routes[0].Candidate == nil || len(routes[0].Candidate.Segments) == 0 {
		return out
	}
	if in.Name == nil {
		in.Name = func(id string) string { return id }
	}
	for _, r := range rules {
		if msg, ok := r(routes, p, in); ok {
			out = append(out, msg)
		}
	}
	return out
}

func isPeak(s prediction.Signal, threshold float64) bool {
	ts, ok := s.(prediction.TrafficSignal)
	return ok && (ts.Peak || ts.Magnitude >= threshold)
}

func earlyDeparture(routes []rank.Scored, _ vehicle.Profile, in Inputs) (string, bool) {
	best := routes[0]
	mid := best.Candidate.Segments[best.Candidate.Midpoint()]
	for _, s := range best.Signals {
		ref := s.Meta().Ref
		if !isPeak(s, in.Options.PeakMagnitude) || (ref != mid.ID && ref != best.Candidate.ID) {
			continue
		}
		where := fmt.Sprintf("%s - %s", in.Name(mid.From), in.Name(mid.To))
		if in.Window != nil && !in.Window.Earliest.IsZero() {
			return fmt.Sprintf("Depart at %s, the start of your departure window, to clear predicted peak congestion around %s at the route midpoint.",
				in.Window.Earliest.Format("15:04 02/01/2006"), where), true
		}
		return fmt.Sprintf("Depart at least one hour earlier to clear predicted peak congestion around %s at the route midpoint.", where), true
	}
	return "", false
}

func restStop(routes []rank.Scored, p vehicle.Profile, in Inputs) (string, bool) {
	rests := routes[0].Schedule.Rests
	if len(rests) == 0 {
		return "", false
	}
	first := rests[0]
	where := "at " + in.Name(first.LocationID)
	if first.EnRoute {
		where = "on the road beyond " + in.Name(first.LocationID)
	}
	msg := fmt.Sprintf("Plan a rest stop %s after %s of driving (%s continuous driving limit for %s).",
		where, hours(first.DrivenHours), hours(p.MaxDrivingHours), p.Type)
	if more := len(rests) - 1; more > 0 {
		stops := "stops"
		if more == 1 {
			stops = "stop"
		}
		msg += fmt.Sprintf(" %d further rest %s required on this route.", more, stops)
	}
	return msg, true
}

func alternateRoute(routes []rank.Scored, _ vehicle.Profile, in Inputs) (string, bool) {
	if len(routes) < 2 {
		return "", false
	}
	a, b := routes[0].Cost.Total, routes[1].Cost.Total
	hi := math.Max(a, b)
	if hi <= 0 {
		return "", false
	}
	gap := math.Abs(a-b) / hi
	if gap >= in.Options.AltCostThreshold {
		return "", false
	}
	return fmt.Sprintf("Routes 1 and 2 differ in cost by only %.1f%%; the choice is cost-insensitive, so route 2 is a valid alternative.", gap*100), true
}

func trafficAvoidance(routes []rank.Scored, _ vehicle.Profile, in Inputs) (string, bool) {
	if len(routes) < 2 {
		return "", false
	}
	best, alt := routes[0].Candidate, routes[1].Candidate
	for _, s := range routes[0].Signals {
		ref := s.Meta().Ref
		if s.Contribution() < in.Options.PeakMagnitude || ref == best.ID || !best.Uses(ref) || alt.Uses(ref) {
			continue
		}
		seg := segment(best.Segments, ref)
		return fmt.Sprintf("Heavy traffic is predicted on %s - %s (%s); route 2 avoids this segment.",
			in.Name(seg.From), in.Name(seg.To), s.Kind()), true
	}
	return "", false
}

func segment(segs []*network.Segment, id string) *network.Segment {
	for _, s := range segs {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func hours(h float64) string {
	return fmt.Sprintf("%.1f h", h)
}
