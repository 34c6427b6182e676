package vehicle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	tbl := Defaults()
	got := tbl.List()
	require.Len(t, got, 4)
	require.Equal(t, []Type{ContainerTruck, Motorbike, Truck, Van}, []Type{got[0].Type, got[1].Type, got[2].Type, got[3].Type})

	truck, err := tbl.Lookup(Truck)
	require.NoError(t, err)
	require.InDelta(t, 60, truck.AvgSpeedKph, 1e-9)
	require.Equal(t, 3, truck.TollClass)
	require.InDelta(t, 4, truck.MaxDrivingHours, 1e-9)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Defaults().Lookup("spaceship")
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestNewTableRejects(t *testing.T) {
	ok := Profile{Type: Van, FuelBurnLPerKm: 0.1, TollClass: 1, AvgSpeedKph: 60, MaxDrivingHours: 4}
	bad := map[string][]Profile{
		"empty":     nil,
		"duplicate": {ok, ok},
		"no speed":  {{Type: Van, MaxDrivingHours: 4}},
		"no limit":  {{Type: Van, AvgSpeedKph: 60}},
		"neg fuel":  {{Type: Van, FuelBurnLPerKm: -1, AvgSpeedKph: 60, MaxDrivingHours: 4}},
		"neg class": {{Type: Van, TollClass: -1, AvgSpeedKph: 60, MaxDrivingHours: 4}},
		"no type":   {{AvgSpeedKph: 60, MaxDrivingHours: 4}},
	}
	for name, ps := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(ps)
			require.Error(t, err)
		})
	}
}

func TestRegistryReload(t *testing.T) {
	r := NewRegistry(Defaults())
	dir := t.TempDir()
	path := filepath.Join(dir, "v.yaml")
	body := "vehicles:\n  - {type: van, fuelBurnLPerKm: 0.1, tollClass: 2, avgSpeedKph: 80, maxDrivingHours: 5}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	tbl, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, r.Reload(tbl))

	van, err := r.Lookup(Van)
	require.NoError(t, err)
	require.InDelta(t, 80, van.AvgSpeedKph, 1e-9)
	_, err = r.Lookup(Truck)
	require.ErrorIs(t, err, ErrUnknownType)
	require.Error(t, r.Reload(nil))
}
