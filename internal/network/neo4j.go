package network

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	placesCypher = `MATCH (p:Place)
		RETURN p.id AS id, p.name AS name, coalesce(p.aliases, []) AS aliases, p.lat AS lat, p.lng AS lng
		ORDER BY id`
	roadsCypher = `MATCH (a:Place)-[r:ROAD]->(b:Place)
		RETURN r.id AS id, a.id AS from, b.id AS to, r.distanceKm AS distanceKm, r.hours AS hours,
		       coalesce(r.roadClass, 'national') AS roadClass, coalesce(r.toll, false) AS toll,
		       coalesce(r.oneway, false) AS oneway, coalesce(r.restricted, []) AS restricted
		ORDER BY id`
)

// Neo4jSource reads (:Place)-[:ROAD]->(:Place) graphs.
type Neo4jSource struct {
	Driver   neo4j.DriverWithContext
	Database string
}

// NewNeo4jSource connects with basic auth and verifies connectivity.
func NewNeo4jSource(ctx context.Context, url, user, pass string) (*Neo4jSource, error) {
	drv, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, pass, ""))
	if err != nil {
		return nil, fmt.Errorf("network: neo4j driver: %w", err)
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		_ = drv.Close(ctx)
		return nil, fmt.Errorf("network: neo4j connect: %w", err)
	}
	return &Neo4jSource{Driver: drv}, nil
}

func (n *Neo4jSource) Name() string { return "neo4j" }

func (n *Neo4jSource) Close(ctx context.Context) error { return n.Driver.Close(ctx) }

func (n *Neo4jSource) Load(ctx context.Context) (Data, error) {
	sess := n.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: n.Database})
	defer sess.Close(ctx)

	var d Data
	res, err := sess.Run(ctx, placesCypher, nil)
	if err != nil {
		return Data{}, fmt.Errorf("network: neo4j places: %w", err)
	}
	if err := collect(ctx, res, func(m map[string]any) {
		d.Locations = append(d.Locations, locationFromProps(m))
	}); err != nil {
		return Data{}, fmt.Errorf("network: neo4j places: %w", err)
	}

	res, err = sess.Run(ctx, roadsCypher, nil)
	if err != nil {
		return Data{}, fmt.Errorf("network: neo4j roads: %w", err)
	}
	if err := collect(ctx, res, func(m map[string]any) {
		d.Segments = append(d.Segments, segmentFromProps(m))
	}); err != nil {
		return Data{}, fmt.Errorf("network: neo4j roads: %w", err)
	}
	return d, nil
}

type recordIterator interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

func collect(ctx context.Context, it recordIterator, fn func(map[string]any)) error {
	for it.Next(ctx) {
		fn(it.Record().AsMap())
	}
	return it.Err()
}

func locationFromProps(m map[string]any) LocationSpec {
	return LocationSpec{
		ID:      strProp(m, "id"),
		Name:    strProp(m, "name"),
		Aliases: strSliceProp(m, "aliases"),
		Lat:     floatProp(m, "lat"),
		Lng:     floatProp(m, "lng"),
	}
}

func segmentFromProps(m map[string]any) SegmentSpec {
	return SegmentSpec{
		ID:         strProp(m, "id"),
		From:       strProp(m, "from"),
		To:         strProp(m, "to"),
		DistanceKm: floatProp(m, "distanceKm"),
		Hours:      floatProp(m, "hours"),
		RoadClass:  strProp(m, "roadClass"),
		Toll:       boolProp(m, "toll"),
		Oneway:     boolProp(m, "oneway"),
		Restricted: strSliceProp(m, "restricted"),
	}
}

func strProp(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// floatProp accepts both integer and float properties; Cypher literals like
// 200 come back as int64.
func floatProp(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func boolProp(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func strSliceProp(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
