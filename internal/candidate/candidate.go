// Package candidate generates structurally distinct routes between two
// locations using the iterative penalty method.
package candidate

import (
	"errors"
	"fmt"

	"routeopt/internal/network"
	"routeopt/internal/vehicle"
)

// ErrNoRouteFound means no usable path connects the endpoints.
var ErrNoRouteFound = errors.New("candidate: no route found")

// Candidate is one complete route. Segments point into the snapshot the
// candidate was generated from and must not be modified.
type Candidate struct {
	ID           string
	Order        int
	Segments     []*network.Segment
	DistanceKm   float64
	DrivingHours float64
}

// SegmentIDs lists the candidate's segment IDs in travel order.
func (c *Candidate) SegmentIDs() []string {
	out := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		out[i] = s.ID
	}
	return out
}

// Refs are the prediction references that can apply to the candidate: its own
// ID followed by its segment IDs.
func (c *Candidate) Refs() []string { return append([]string{c.ID}, c.SegmentIDs()...) }

// Midpoint is the index of the segment on which cumulative distance crosses
// half the route length. It returns -1 for an empty route.
func (c *Candidate) Midpoint() int {
	if len(c.Segments) == 0 {
		return -1
	}
	half := c.DistanceKm / 2
	var acc float64
	for i, s := range c.Segments {
		acc += s.DistanceKm
		if acc >= half {
			return i
		}
	}
	return len(c.Segments) - 1
}

// Uses reports whether the candidate travels over segment id.
func (c *Candidate) Uses(id string) bool {
	for _, s := range c.Segments {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Options tune generation.
type Options struct {
	// MaxSharedFraction is the largest share of the shorter route's segments
	// two candidates may have in common.
	MaxSharedFraction float64
	// PenaltyFactor multiplies the weight of every segment on an explored path.
	PenaltyFactor float64
}

func (o Options) withDefaults() Options {
	if o.MaxSharedFraction <= 0 || o.MaxSharedFraction > 1 {
		o.MaxSharedFraction = 0.7
	}
	if o.PenaltyFactor <= 1 {
		o.PenaltyFactor = 1.6
	}
	return o
}

// DefaultMax is used when a caller asks for fewer than one candidate.
const DefaultMax = 3

type Generator struct {
	opts Options
}

func NewGenerator(opts Options) *Generator { return &Generator{opts: opts.withDefaults()} }

// Weight is the per-profile traversal cost used for route search: the
// vehicle's driving hours, excluding restricted segments.
func Weight(p vehicle.Profile) network.WeightFunc {
	typ := string(p.Type)
	return func(s *network.Segment) (float64, bool) {
		if !s.AllowedFor(typ) {
			return 0, false
		}
		return s.DrivingHours(p.AvgSpeedKph), true
	}
}

// Generate returns at most max candidates in generation order. It makes up to
// four attempts per requested candidate, penalising each explored path so the
// next search is pushed elsewhere, and keeps only paths that are distinct from
// every accepted one. The output depends only on its inputs.
func (g *Generator) Generate(snap *network.Snapshot, origin, destination network.Location, p vehicle.Profile, max int) ([]Candidate, error) {
	if max < 1 {
		max = DefaultMax
	}
	base := Weight(p)
	penalty := make(map[string]float64)
	weight := func(s *network.Segment) (float64, bool) {
		w, ok := base(s)
		if !ok {
			return 0, false
		}
		if m, hit := penalty[s.ID]; hit {
			w *= m
		}
		return w, true
	}

	var out []Candidate
	for attempt := 0; attempt < 4*max && len(out) < max; attempt++ {
		path, _, ok := snap.ShortestPath(origin.ID, destination.ID, weight)
		if !ok {
			break
		}
		if g.distinct(path, out) {
			n := len(out) + 1
			c := Candidate{
				ID:       fmt.Sprintf("%s-%s-%d", origin.ID, destination.ID, n),
				Order:    n,
				Segments: path,
			}
			for _, s := range path {
				c.DistanceKm += s.DistanceKm
				c.DrivingHours += s.DrivingHours(p.AvgSpeedKph)
			}
			out = append(out, c)
		}
		for _, s := range path {
			m, hit := penalty[s.ID]
			if !hit {
				m = 1
			}
			penalty[s.ID] = m * g.opts.PenaltyFactor
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s to %s for %s", ErrNoRouteFound, origin.ID, destination.ID, p.Type)
	}
	return out, nil
}

func (g *Generator) distinct(path []*network.Segment, accepted []Candidate) bool {
	for i := range accepted {
		if SharedFraction(path, accepted[i].Segments) > g.opts.MaxSharedFraction {
			return false
		}
	}
	return true
}

// SharedFraction is the number of segments a and b have in common divided by
// the length of the shorter one.
func SharedFraction(a, b []*network.Segment) float64 {
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter == 0 {
		return 1
	}
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s.ID] = struct{}{}
	}
	shared := 0
	for _, s := range a {
		if _, ok := in[s.ID]; ok {
			shared++
		}
	}
	return float64(shared) / float64(shorter)
}
