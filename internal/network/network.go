// Package network holds the road network as an immutable snapshot behind a
// single atomically swapped reference.
package network

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"
)

var (
	// ErrUnknownLocation is returned when a name or coordinate cannot be resolved.
	ErrUnknownLocation = errors.New("network: unknown location")
	// ErrInvalidData is returned when source data cannot form a consistent snapshot.
	ErrInvalidData = errors.New("network: invalid data")
)

// RoadClass categorises a segment for display and restriction rules.
type RoadClass string

const (
	Expressway RoadClass = "expressway"
	National   RoadClass = "national"
	Provincial RoadClass = "provincial"
	Urban      RoadClass = "urban"
)

// Location is a resolved point on the network.
type Location struct {
	ID      string
	Name    string
	Aliases []string
	Lat     float64
	Lng     float64
}

// Segment is a directed edge between two locations.
type Segment struct {
	ID         string
	From       string
	To         string
	DistanceKm float64
	BaseHours  float64
	RoadClass  RoadClass
	Toll       bool
	// Restricted lists vehicle types that may not use the segment.
	Restricted []string
}

// DrivingHours is the time to drive the segment for a vehicle whose cruise
// speed is speedKph. A vehicle never beats the segment's base duration.
func (s *Segment) DrivingHours(speedKph float64) float64 {
	if speedKph <= 0 {
		return s.BaseHours
	}
	return math.Max(s.BaseHours, s.DistanceKm/speedKph)
}

// AllowedFor reports whether vehicleType may use the segment.
func (s *Segment) AllowedFor(vehicleType string) bool {
	for _, r := range s.Restricted {
		if r == vehicleType {
			return false
		}
	}
	return true
}

// Snapshot is an immutable view of the network. All methods are safe for
// concurrent use.
type Snapshot struct {
	locations map[string]Location
	segments  map[string]*Segment
	outgoing  map[string][]*Segment
	names     map[string]string
	ordered   []string

	snapRadiusKm float64
	source       string
	loadedAt     time.Time
}

// Option configures snapshot construction.
type Option func(*Snapshot)

// WithSnapRadius sets how far a "lat,lng" query may be from a location and
// still resolve to it.
func WithSnapRadius(km float64) Option {
	return func(s *Snapshot) {
		if km > 0 {
			s.snapRadiusKm = km
		}
	}
}

// WithSource records where the data came from.
func WithSource(name string) Option {
	return func(s *Snapshot) { s.source = name }
}

// NewSnapshot validates d and builds an indexed snapshot. Two-way segments are
// expanded into a forward segment and a reverse one whose ID ends in ":rev".
func NewSnapshot(d Data, opts ...Option) (*Snapshot, error) {
	s := &Snapshot{
		locations:    make(map[string]Location, len(d.Locations)),
		segments:     make(map[string]*Segment, 2*len(d.Segments)),
		outgoing:     make(map[string][]*Segment, len(d.Locations)),
		names:        make(map[string]string, 4*len(d.Locations)),
		snapRadiusKm: 30,
		source:       "inline",
		loadedAt:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, l := range d.Locations {
		if l.ID == "" {
			return nil, fmt.Errorf("%w: location with empty id", ErrInvalidData)
		}
		if _, dup := s.locations[l.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate location %q", ErrInvalidData, l.ID)
		}
		if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
			return nil, fmt.Errorf("%w: location %q has invalid coordinates", ErrInvalidData, l.ID)
		}
		loc := Location{ID: l.ID, Name: l.Name, Aliases: append([]string(nil), l.Aliases...), Lat: l.Lat, Lng: l.Lng}
		if loc.Name == "" {
			loc.Name = l.ID
		}
		s.locations[l.ID] = loc
		s.ordered = append(s.ordered, l.ID)
		for _, n := range append([]string{l.ID, loc.Name}, l.Aliases...) {
			key := normalizeName(n)
			if key == "" {
				continue
			}
			if other, ok := s.names[key]; ok && other != l.ID {
				return nil, fmt.Errorf("%w: name %q is used by %q and %q", ErrInvalidData, n, other, l.ID)
			}
			s.names[key] = l.ID
		}
	}
	sort.Strings(s.ordered)

	add := func(seg *Segment) error {
		if _, dup := s.segments[seg.ID]; dup {
			return fmt.Errorf("%w: duplicate segment %q", ErrInvalidData, seg.ID)
		}
		s.segments[seg.ID] = seg
		s.outgoing[seg.From] = append(s.outgoing[seg.From], seg)
		return nil
	}
	for _, sp := range d.Segments {
		if sp.ID == "" {
			return nil, fmt.Errorf("%w: segment with empty id", ErrInvalidData)
		}
		if _, ok := s.locations[sp.From]; !ok {
			return nil, fmt.Errorf("%w: segment %q starts at unknown location %q", ErrInvalidData, sp.ID, sp.From)
		}
		if _, ok := s.locations[sp.To]; !ok {
			return nil, fmt.Errorf("%w: segment %q ends at unknown location %q", ErrInvalidData, sp.ID, sp.To)
		}
		if sp.From == sp.To {
			return nil, fmt.Errorf("%w: segment %q is a loop", ErrInvalidData, sp.ID)
		}
		if !(sp.DistanceKm >= 0) || !(sp.Hours >= 0) || math.IsInf(sp.DistanceKm, 0) || math.IsInf(sp.Hours, 0) {
			return nil, fmt.Errorf("%w: segment %q has negative or non-finite distance or duration", ErrInvalidData, sp.ID)
		}
		class := RoadClass(sp.RoadClass)
		if class == "" {
			class = National
		}
		fwd := &Segment{
			ID:         sp.ID,
			From:       sp.From,
			To:         sp.To,
			DistanceKm: sp.DistanceKm,
			BaseHours:  sp.Hours,
			RoadClass:  class,
			Toll:       sp.Toll,
			Restricted: append([]string(nil), sp.Restricted...),
		}
		if err := add(fwd); err != nil {
			return nil, err
		}
		if !sp.Oneway {
			rev := *fwd
			rev.ID = sp.ID + ":rev"
			rev.From, rev.To = fwd.To, fwd.From
			rev.Restricted = append([]string(nil), fwd.Restricted...)
			if err := add(&rev); err != nil {
				return nil, err
			}
		}
	}
	for id := range s.outgoing {
		out := s.outgoing[id]
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return s, nil
}

// LookupSegment returns the segment with the given ID.
func (s *Snapshot) LookupSegment(id string) (*Segment, bool) {
	seg, ok := s.segments[id]
	return seg, ok
}

// Location returns the location with the given ID.
func (s *Snapshot) Location(id string) (Location, bool) {
	l, ok := s.locations[id]
	return l, ok
}

// Locations returns all locations ordered by ID.
func (s *Snapshot) Locations() []Location {
	out := make([]Location, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.locations[id])
	}
	return out
}

// Outgoing returns the segments leaving a location, ordered by segment ID.
func (s *Snapshot) Outgoing(locationID string) []*Segment { return s.outgoing[locationID] }

// SegmentCount is the number of directed segments.
func (s *Snapshot) SegmentCount() int { return len(s.segments) }

// Source names where the snapshot was loaded from.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// SegmentsBetween returns the cheapest segment sequence from origin to
// destination under weight. A nil weight uses base hours over all segments.
// The result is empty when the endpoints are not connected.
func (s *Snapshot) SegmentsBetween(origin, destination Location, weight WeightFunc) ([]*Segment, error) {
	if _, ok := s.locations[origin.ID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, origin.ID)
	}
	if _, ok := s.locations[destination.ID]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, destination.ID)
	}
	if weight == nil {
		weight = func(seg *Segment) (float64, bool) { return seg.BaseHours, true }
	}
	path, _, _ := s.ShortestPath(origin.ID, destination.ID, weight)
	return path, nil
}

// Model owns the active snapshot. Readers never lock.
type Model struct {
	cur atomic.Pointer[Snapshot]
}

// NewModel returns a Model serving s.
func NewModel(s *Snapshot) *Model {
	m := &Model{}
	m.cur.Store(s)
	return m
}

// Snapshot returns the active snapshot. Callers should hold on to it for the
// duration of one request.
func (m *Model) Snapshot() *Snapshot { return m.cur.Load() }

// Reload installs s as the active snapshot.
func (m *Model) Reload(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidData)
	}
	m.cur.Store(s)
	return nil
}

// SegmentsBetween resolves both queries on the active snapshot and returns the
// base-duration route between them.
func (m *Model) SegmentsBetween(origin, destination string) ([]*Segment, error) {
	snap := m.Snapshot()
	o, err := snap.Resolve(origin)
	if err != nil {
		return nil, err
	}
	d, err := snap.Resolve(destination)
	if err != nil {
		return nil, err
	}
	return snap.SegmentsBetween(o, d, nil)
}

// LookupSegment finds a segment on the active snapshot.
func (m *Model) LookupSegment(id string) (*Segment, bool) { return m.Snapshot().LookupSegment(id) }
