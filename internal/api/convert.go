package api

import (
	"fmt"
	"time"

	"github.com/spf13/cast"

	"routeopt/internal/model"
	"routeopt/internal/network"
	"routeopt/internal/optimize"
	"routeopt/internal/rank"
	"routeopt/internal/vehicle"
)

func toResponse(res *optimize.Result) model.OptimizeResponse {
	name := func(id string) string {
		if res.Snapshot == nil {
			return id
		}
		if l, ok := res.Snapshot.Location(id); ok {
			return l.Name
		}
		return id
	}
	out := model.OptimizeResponse{
		RequestID:       res.RequestID,
		Origin:          toLocation(res.Origin),
		Destination:     toLocation(res.Destination),
		VehicleType:     string(res.Vehicle.Type),
		Routes:          make([]model.RouteOut, 0, len(res.Routes)),
		Recommendations: res.Recommendations,
		Degraded:        res.Degraded,
		DegradedReasons: res.DegradedReasons,
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	if out.DegradedReasons == nil {
		out.DegradedReasons = []string{}
	}
	for _, r := range res.Routes {
		ro := model.RouteOut{
			Rank:                 r.Rank,
			CandidateID:          r.Candidate.ID,
			DistanceKm:           r.Candidate.DistanceKm,
			DurationHours:        r.DurationHours,
			DrivingHours:         r.Schedule.DrivingHours,
			RestStops:            make([]model.RestStop, 0, len(r.Schedule.Rests)),
			Cost:                 model.CostOut{Fuel: r.Cost.Fuel, Tolls: r.Cost.Tolls, Driver: r.Cost.Driver, Total: r.Cost.Total, Clamped: r.Cost.Clamped},
			PredictionAdjustment: r.Adjustment,
			Score:                r.Score,
			Segments:             make([]model.SegmentOut, 0, len(r.Candidate.Segments)),
		}
		for _, st := range r.Schedule.Rests {
			ro.RestStops = append(ro.RestStops, model.RestStop{LocationID: st.LocationID, LocationName: name(st.LocationID), AfterHours: st.DrivenHours, EnRoute: st.EnRoute})
		}
		for _, seg := range r.Candidate.Segments {
			ro.Segments = append(ro.Segments, model.SegmentOut{
				ID:         seg.ID,
				From:       seg.From,
				To:         seg.To,
				DistanceKm: seg.DistanceKm,
				RoadClass:  string(seg.RoadClass),
				Toll:       seg.Toll,
			})
		}
		for _, sig := range r.Signals {
			m := sig.Meta()
			ro.Signals = append(ro.Signals, model.SignalOut{
				Kind:       string(sig.Kind()),
				Ref:        m.Ref,
				Magnitude:  m.Magnitude,
				Confidence: m.Confidence,
				ObservedAt: m.ObservedAt.Format(time.RFC3339),
			})
		}
		out.Routes = append(out.Routes, ro)
	}
	return out
}

func toLocation(l network.Location) model.LocationOut {
	return model.LocationOut{ID: l.ID, Name: l.Name, Aliases: l.Aliases, Lat: l.Lat, Lng: l.Lng}
}

func toVehicle(p vehicle.Profile) model.VehicleOut {
	return model.VehicleOut{
		Type:            string(p.Type),
		FuelBurnLPerKm:  p.FuelBurnLPerKm,
		TollClass:       p.TollClass,
		AvgSpeedKph:     p.AvgSpeedKph,
		MaxDrivingHours: p.MaxDrivingHours,
	}
}

// Keys a tenant may override.
const (
	keyCostWeight       = "costWeight"
	keyTimeWeight       = "timeWeight"
	keyRiskWeight       = "riskWeight"
	keyAltCostThreshold = "altCostThreshold"
)

// tenantOverrides reads a stored tenant config. Weights left unset keep the
// service default.
func tenantOverrides(cfg map[string]any, base rank.Weights) (*rank.Weights, *float64, error) {
	if len(cfg) == 0 {
		return nil, nil, nil
	}
	var weights *rank.Weights
	w := base
	for key, dst := range map[string]*float64{keyCostWeight: &w.Cost, keyTimeWeight: &w.Time, keyRiskWeight: &w.Risk} {
		raw, ok := cfg[key]
		if !ok {
			continue
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		weights = &w
	}
	if weights != nil {
		if err := weights.Validate(); err != nil {
			return nil, nil, err
		}
	}
	var alt *float64
	if raw, ok := cfg[keyAltCostThreshold]; ok {
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", keyAltCostThreshold, err)
		}
		if f < 0 {
			return nil, nil, fmt.Errorf("%s must be >= 0", keyAltCostThreshold)
		}
		alt = &f
	}
	return weights, alt, nil
}

// normalizeTenantConfig validates an admin update and returns the map to
// store. Unknown keys are rejected.
func normalizeTenantConfig(in map[string]any, base rank.Weights) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch k {
		case keyCostWeight, keyTimeWeight, keyRiskWeight, keyAltCostThreshold:
			f, err := cast.ToFloat64E(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = f
		default:
			return nil, fmt.Errorf("unknown config key %q (allowed: costWeight, timeWeight, riskWeight, altCostThreshold)", k)
		}
	}
	if _, _, err := tenantOverrides(out, base); err != nil {
		return nil, err
	}
	return out, nil
}
