package network

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedded(t *testing.T) *Snapshot {
	t.Helper()
	s, err := Build(context.Background(), Embedded())
	require.NoError(t, err)
	return s
}

func totalKm(path []*Segment) float64 {
	var km float64
	for _, s := range path {
		km += s.DistanceKm
	}
	return km
}

func TestEmbeddedNetworkLoads(t *testing.T) {
	s := embedded(t)
	require.Equal(t, "embedded", s.Source())
	require.Len(t, s.Locations(), 21)

	seg, ok := s.LookupSegment("ql1a-hcm-phanthiet")
	require.True(t, ok)
	require.Equal(t, "hcm", seg.From)

	rev, ok := s.LookupSegment("ql1a-hcm-phanthiet:rev")
	require.True(t, ok)
	require.Equal(t, "phan-thiet", rev.From)
	require.Equal(t, "hcm", rev.To)
}

func TestQL1ACorridorLength(t *testing.T) {
	s := embedded(t)
	ql1a := []string{
		"ql1a-hcm-phanthiet", "ql1a-phanthiet-nhatrang", "ql1a-nhatrang-quynhon",
		"ql1a-quynhon-quangngai", "ql1a-quangngai-danang", "ql1a-danang-hue",
		"ql1a-hue-dongha", "ql1a-dongha-donghoi", "ql1a-donghoi-vinh",
		"ql1a-vinh-thanhhoa", "ql1a-thanhhoa-ninhbinh", "ql1a-ninhbinh-hanoi",
	}
	var path []*Segment
	for _, id := range ql1a {
		seg, ok := s.LookupSegment(id)
		require.True(t, ok, id)
		path = append(path, seg)
	}
	require.InDelta(t, 1715, totalKm(path), 1e-9)
}

func TestResolveNamesAndCoordinates(t *testing.T) {
	s := embedded(t)
	cases := map[string]string{
		"TP. Hồ Chí Minh":  "hcm",
		"tp ho chi minh":   "hcm",
		"Sài Gòn":          "hcm",
		"Hà Nội":           "ha-noi",
		"HA NOI":           "ha-noi",
		"Đà Nẵng":          "da-nang",
		"da nang":          "da-nang",
		"21.03,105.85":     "ha-noi",
		" 10.78 , 106.70 ": "hcm",
	}
	for q, want := range cases {
		loc, err := s.Resolve(q)
		require.NoError(t, err, q)
		assert.Equal(t, want, loc.ID, q)
	}
}

func TestResolveUnknown(t *testing.T) {
	s := embedded(t)
	for _, q := range []string{"", "Atlantis", "0,0", "95,10"} {
		_, err := s.Resolve(q)
		require.ErrorIs(t, err, ErrUnknownLocation, q)
	}
}

func TestSegmentsBetweenFastest(t *testing.T) {
	s := embedded(t)
	hcm, _ := s.Location("hcm")
	hn, _ := s.Location("ha-noi")
	path, err := s.SegmentsBetween(hcm, hn, nil)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	require.Equal(t, "hcm", path[0].From)
	require.Equal(t, "ha-noi", path[len(path)-1].To)
	for i := 1; i < len(path); i++ {
		require.Equal(t, path[i-1].To, path[i].From)
	}
	km := totalKm(path)
	require.Greater(t, km, 1600.0)
	require.Less(t, km, 1800.0)
}

func TestSegmentsBetweenRespectsRestrictions(t *testing.T) {
	s := embedded(t)
	hcm, _ := s.Location("hcm")
	hn, _ := s.Location("ha-noi")
	motorbike := func(seg *Segment) (float64, bool) { return seg.DrivingHours(45), seg.AllowedFor("motorbike") }
	path, err := s.SegmentsBetween(hcm, hn, motorbike)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	for _, seg := range path {
		require.NotEqual(t, Expressway, seg.RoadClass, seg.ID)
	}
}

func TestSegmentsBetweenUnknownEndpoint(t *testing.T) {
	s := embedded(t)
	hcm, _ := s.Location("hcm")
	_, err := s.SegmentsBetween(hcm, Location{ID: "nowhere"}, nil)
	require.ErrorIs(t, err, ErrUnknownLocation)
}

func TestUnreachable(t *testing.T) {
	s, err := NewSnapshot(Data{
		Locations: []LocationSpec{{ID: "a", Lat: 10, Lng: 106}, {ID: "b", Lat: 11, Lng: 106}, {ID: "c", Lat: 12, Lng: 106}},
		Segments:  []SegmentSpec{{ID: "ab", From: "a", To: "b", DistanceKm: 10, Hours: 0.2, Oneway: true}},
	})
	require.NoError(t, err)
	a, _ := s.Location("a")
	c, _ := s.Location("c")
	b, _ := s.Location("b")

	path, err := s.SegmentsBetween(a, c, nil)
	require.NoError(t, err)
	require.Empty(t, path)
	require.False(t, s.Reachable("a", "c", nil))
	require.True(t, s.Reachable("a", "b", nil))
	require.False(t, s.Reachable("b", "a", nil), "oneway segment has no reverse")

	path, err = s.SegmentsBetween(b, a, nil)
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestNewSnapshotRejectsBadData(t *testing.T) {
	locs := []LocationSpec{{ID: "a", Lat: 10, Lng: 106}, {ID: "b", Lat: 11, Lng: 106}}
	cases := map[string]Data{
		"duplicate location": {Locations: append(locs, LocationSpec{ID: "a"})},
		"unknown endpoint":   {Locations: locs, Segments: []SegmentSpec{{ID: "x", From: "a", To: "z"}}},
		"negative distance":  {Locations: locs, Segments: []SegmentSpec{{ID: "x", From: "a", To: "b", DistanceKm: -1}}},
		"duplicate segment": {Locations: locs, Segments: []SegmentSpec{
			{ID: "x", From: "a", To: "b", DistanceKm: 1}, {ID: "x", From: "b", To: "a", DistanceKm: 1},
		}},
		"alias clash":  {Locations: []LocationSpec{{ID: "a", Aliases: []string{"Same"}}, {ID: "b", Aliases: []string{"same"}}}},
		"bad latitude": {Locations: []LocationSpec{{ID: "a", Lat: 91}}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSnapshot(d)
			require.ErrorIs(t, err, ErrInvalidData)
		})
	}
}

func TestDrivingHoursNeverBeatsBase(t *testing.T) {
	seg := &Segment{DistanceKm: 200, BaseHours: 4.5}
	require.InDelta(t, 4.5, seg.DrivingHours(60), 1e-9)
	require.InDelta(t, 200.0/40, seg.DrivingHours(40), 1e-9)
	require.InDelta(t, 4.5, seg.DrivingHours(0), 1e-9)
}

func TestModelReloadKeepsOldSnapshotForReaders(t *testing.T) {
	first := embedded(t)
	m := NewModel(first)
	held := m.Snapshot()

	second, err := NewSnapshot(Data{Locations: []LocationSpec{{ID: "only", Lat: 1, Lng: 1}}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Snapshot().SegmentCount()
		}()
	}
	require.NoError(t, m.Reload(second))
	wg.Wait()

	require.Same(t, second, m.Snapshot())
	require.Same(t, first, held)
	_, ok := held.LookupSegment("ql1a-hcm-phanthiet")
	require.True(t, ok)
	require.Error(t, m.Reload(nil))
}

func TestModelSegmentsBetweenByName(t *testing.T) {
	m := NewModel(embedded(t))
	path, err := m.SegmentsBetween("Đà Nẵng", "Huế")
	require.NoError(t, err)
	require.Len(t, path, 1)
	require.Equal(t, "ql1a-danang-hue", path[0].ID)

	_, err = m.SegmentsBetween("Atlantis", "Huế")
	require.ErrorIs(t, err, ErrUnknownLocation)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "net.yaml")
	body := `locations:
  - {id: a, name: Alpha, lat: 10, lng: 106}
  - {id: b, name: Beta, lat: 10.1, lng: 106.1}
segments:
  - {id: ab, from: a, to: b, distanceKm: 15, hours: 0.3, roadClass: urban}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	s, err := Build(context.Background(), FileSource{Path: path}, WithSnapRadius(5))
	require.NoError(t, err)
	require.Equal(t, 2, s.SegmentCount())
	loc, err := s.Resolve("alpha")
	require.NoError(t, err)
	require.Equal(t, "a", loc.ID)

	require.NoError(t, os.WriteFile(path, []byte("locations:\n  - {id: a, colour: red}\n"), 0o600))
	_, err = FileSource{Path: path}.Load(context.Background())
	require.Error(t, err)

	_, err = FileSource{Path: filepath.Join(dir, "missing.yaml")}.Load(context.Background())
	require.Error(t, err)
}

type fakeRecords struct {
	recs []*neo4j.Record
	i    int
	err  error
}

func (f *fakeRecords) Next(context.Context) bool {
	if f.i >= len(f.recs) {
		return false
	}
	f.i++
	return true
}
func (f *fakeRecords) Record() *neo4j.Record { return f.recs[f.i-1] }
func (f *fakeRecords) Err() error            { return f.err }

func TestNeo4jRecordMapping(t *testing.T) {
	it := &fakeRecords{recs: []*neo4j.Record{{
		Keys:   []string{"id", "from", "to", "distanceKm", "hours", "roadClass", "toll", "oneway", "restricted"},
		Values: []any{"r1", "a", "b", int64(200), 4.5, "national", true, false, []any{"motorbike"}},
	}}}
	var got []SegmentSpec
	require.NoError(t, collect(context.Background(), it, func(m map[string]any) {
		got = append(got, segmentFromProps(m))
	}))
	require.Equal(t, []SegmentSpec{{
		ID: "r1", From: "a", To: "b", DistanceKm: 200, Hours: 4.5,
		RoadClass: "national", Toll: true, Restricted: []string{"motorbike"},
	}}, got)

	loc := locationFromProps(map[string]any{"id": "a", "name": "Alpha", "aliases": []any{"A"}, "lat": 10.5, "lng": int64(106)})
	require.Equal(t, LocationSpec{ID: "a", Name: "Alpha", Aliases: []string{"A"}, Lat: 10.5, Lng: 106}, loc)

	boom := errors.New("boom")
	require.ErrorIs(t, collect(context.Background(), &fakeRecords{err: boom}, func(map[string]any) {}), boom)
}
