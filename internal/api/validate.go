package api

import (
	"fmt"
	"strings"
	"time"

	"routeopt/internal/model"
	"routeopt/internal/optimize"
)

// validateOptimizeRequest checks the request shape and builds the engine
// request. Location and vehicle checks belong to the engine.
func validateOptimizeRequest(req *model.OptimizeRequest) (optimize.Request, error) {
	out := optimize.Request{
		Origin:      strings.TrimSpace(req.Origin),
		Destination: strings.TrimSpace(req.Destination),
		VehicleType: strings.TrimSpace(req.VehicleType),
	}
	if out.Origin == "" {
		return out, fmt.Errorf("origin is required")
	}
	if out.Destination == "" {
		return out, fmt.Errorf("destination is required")
	}
	if len(out.Origin) > 200 || len(out.Destination) > 200 {
		return out, fmt.Errorf("origin and destination must be at most 200 bytes")
	}
	if dw := req.DepartureWindow; dw != nil {
		var win optimize.Window
		var err error
		if win.Earliest, err = parseTime(dw.Earliest); err != nil {
			return out, fmt.Errorf("departureWindow.earliest: %w", err)
		}
		if win.Latest, err = parseTime(dw.Latest); err != nil {
			return out, fmt.Errorf("departureWindow.latest: %w", err)
		}
		if !win.Earliest.IsZero() || !win.Latest.IsZero() {
			out.DepartureWindow = &win
		}
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be RFC 3339, got %q", s)
	}
	return t, nil
}
