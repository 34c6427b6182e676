// Package vehicle holds the vehicle profile table.
package vehicle

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

//go:embed data/vehicles.yaml
var defaultsYAML []byte

// ErrUnknownType is returned for a vehicle type that has no profile.
var ErrUnknownType = errors.New("vehicle: unknown type")

// Type is the enumerated vehicle kind.
type Type string

const (
	Truck          Type = "truck"
	Van            Type = "van"
	Motorbike      Type = "motorbike"
	ContainerTruck Type = "container-truck"
)

// DefaultType is used when a request does not name one.
const DefaultType = Truck

// Profile describes how a vehicle consumes fuel, pays tolls and drives.
type Profile struct {
	Type            Type    `yaml:"type" json:"type"`
	FuelBurnLPerKm  float64 `yaml:"fuelBurnLPerKm" json:"fuelBurnLPerKm"`
	TollClass       int     `yaml:"tollClass" json:"tollClass"`
	AvgSpeedKph     float64 `yaml:"avgSpeedKph" json:"avgSpeedKph"`
	MaxDrivingHours float64 `yaml:"maxDrivingHours" json:"maxDrivingHours"`
}

func (p Profile) validate() error {
	switch {
	case p.Type == "":
		return errors.New("empty type")
	case !finite(p.FuelBurnLPerKm) || p.FuelBurnLPerKm < 0:
		return fmt.Errorf("%s: fuel burn must be finite and >= 0", p.Type)
	case p.TollClass < 0:
		return fmt.Errorf("%s: toll class must be >= 0", p.Type)
	case !finite(p.AvgSpeedKph) || p.AvgSpeedKph <= 0:
		return fmt.Errorf("%s: average speed must be > 0", p.Type)
	case !finite(p.MaxDrivingHours) || p.MaxDrivingHours <= 0:
		return fmt.Errorf("%s: driving limit must be > 0", p.Type)
	}
	return nil
}

// Table is an immutable set of profiles keyed by type.
type Table struct {
	byType map[Type]Profile
}

// NewTable validates profiles and indexes them.
func NewTable(profiles []Profile) (*Table, error) {
	t := &Table{byType: make(map[Type]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("vehicle: %w", err)
		}
		if _, dup := t.byType[p.Type]; dup {
			return nil, fmt.Errorf("vehicle: duplicate type %q", p.Type)
		}
		t.byType[p.Type] = p
	}
	if len(t.byType) == 0 {
		return nil, errors.New("vehicle: empty table")
	}
	return t, nil
}

// Lookup returns the profile for typ.
func (t *Table) Lookup(typ Type) (Profile, error) {
	p, ok := t.byType[typ]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return p, nil
}

// List returns all profiles sorted by type.
func (t *Table) List() []Profile {
	out := make([]Profile, 0, len(t.byType))
	for _, p := range t.byType {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

type file struct {
	Vehicles []Profile `yaml:"vehicles"`
}

// ParseYAML decodes a vehicles document into a table.
func ParseYAML(b []byte) (*Table, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("vehicle: decode yaml: %w", err)
	}
	return NewTable(f.Vehicles)
}

// Defaults returns the built-in table.
func Defaults() *Table {
	t, err := ParseYAML(defaultsYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadFile reads a vehicles YAML file.
func LoadFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vehicle: read %s: %w", path, err)
	}
	return ParseYAML(b)
}

// Registry serves the active table and swaps it atomically on reload.
type Registry struct {
	cur atomic.Pointer[Table]
}

func NewRegistry(t *Table) *Registry {
	r := &Registry{}
	r.cur.Store(t)
	return r
}

func (r *Registry) Table() *Table { return r.cur.Load() }

func (r *Registry) Lookup(typ Type) (Profile, error) { return r.Table().Lookup(typ) }

func (r *Registry) List() []Profile { return r.Table().List() }

func (r *Registry) Reload(t *Table) error {
	if t == nil {
		return errors.New("vehicle: nil table")
	}
	r.cur.Store(t)
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
