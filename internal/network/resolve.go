package network

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const earthRadiusKm = 6371.0

var dStroke = strings.NewReplacer("Đ", "D", "đ", "d")

// normalizeName folds case and Vietnamese diacritics and collapses
// punctuation, so "TP. Hồ Chí Minh" and "tp ho chi minh" match.
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, dStroke.Replace(s))
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// Resolve maps a place name, alias, ID or "lat,lng" pair to a location.
// Coordinates snap to the nearest location within the snap radius.
func (s *Snapshot) Resolve(query string) (Location, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Location{}, fmt.Errorf("%w: empty query", ErrUnknownLocation)
	}
	if lat, lng, ok := parseLatLng(q); ok {
		return s.nearest(q, lat, lng)
	}
	if id, ok := s.names[normalizeName(q)]; ok {
		return s.locations[id], nil
	}
	return Location{}, fmt.Errorf("%w: %q", ErrUnknownLocation, query)
}

func (s *Snapshot) nearest(query string, lat, lng float64) (Location, error) {
	best, bestKm := "", math.Inf(1)
	for _, id := range s.ordered {
		l := s.locations[id]
		if d := Haversine(lat, lng, l.Lat, l.Lng); d < bestKm {
			best, bestKm = id, d
		}
	}
	if best == "" || bestKm > s.snapRadiusKm {
		return Location{}, fmt.Errorf("%w: no location within %.0f km of %q", ErrUnknownLocation, s.snapRadiusKm, query)
	}
	return s.locations[best], nil
}

func parseLatLng(q string) (lat, lng float64, ok bool) {
	parts := strings.Split(q, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, false
	}
	return lat, lng, true
}

// Haversine is the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
