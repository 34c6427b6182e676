package network

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/vietnam.yaml
var vietnamYAML []byte

// Data is the source-independent form of a network.
type Data struct {
	Locations []LocationSpec `yaml:"locations" json:"locations"`
	Segments  []SegmentSpec  `yaml:"segments" json:"segments"`
}

type LocationSpec struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Lat     float64  `yaml:"lat" json:"lat"`
	Lng     float64  `yaml:"lng" json:"lng"`
}

type SegmentSpec struct {
	ID         string   `yaml:"id" json:"id"`
	From       string   `yaml:"from" json:"from"`
	To         string   `yaml:"to" json:"to"`
	DistanceKm float64  `yaml:"distanceKm" json:"distanceKm"`
	Hours      float64  `yaml:"hours" json:"hours"`
	RoadClass  string   `yaml:"roadClass" json:"roadClass"`
	Toll       bool     `yaml:"toll" json:"toll"`
	Oneway     bool     `yaml:"oneway,omitempty" json:"oneway,omitempty"`
	Restricted []string `yaml:"restricted,omitempty" json:"restricted,omitempty"`
}

// Source produces network data. Implementations may hit a database.
type Source interface {
	Name() string
	Load(ctx context.Context) (Data, error)
}

// ParseYAML decodes network data, rejecting unknown fields.
func ParseYAML(b []byte) (Data, error) {
	var d Data
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Data{}, fmt.Errorf("%w: decode yaml: %w", ErrInvalidData, err)
	}
	return d, nil
}

type embeddedSource struct{}

// Embedded returns the built-in Vietnam trunk network.
func Embedded() Source { return embeddedSource{} }

func (embeddedSource) Name() string { return "embedded" }

func (embeddedSource) Load(context.Context) (Data, error) { return ParseYAML(vietnamYAML) }

// FileSource reads a YAML network file on every Load.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return "file:" + f.Path }

func (f FileSource) Load(ctx context.Context) (Data, error) {
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return Data{}, fmt.Errorf("network: read %s: %w", f.Path, err)
	}
	return ParseYAML(b)
}

// Build loads from src and constructs a snapshot.
func Build(ctx context.Context, src Source, opts ...Option) (*Snapshot, error) {
	d, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(d, append([]Option{WithSource(src.Name())}, opts...)...)
}
