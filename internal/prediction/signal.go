// Package prediction turns loosely typed external forecasts into typed
// signals and blends them into a bounded per-route adjustment.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	"routeopt/internal/metrics"
)

var (
	// ErrUnknownKind rejects a signal whose kind the engine does not model.
	ErrUnknownKind = errors.New("prediction: unknown signal kind")
	// ErrInvalidSignal rejects a signal with missing or out-of-range fields.
	ErrInvalidSignal = errors.New("prediction: invalid signal")
)

type Kind string

const (
	Traffic Kind = "traffic"
	Demand  Kind = "demand"
	Weather Kind = "weather"
)

// RawSignal is a signal as received from a source, before validation.
// Expected keys: kind, ref, magnitude, confidence, observedAt, and the
// kind-specific peak (traffic) or favorable (weather).
type RawSignal map[string]any

// Common holds the fields every signal kind carries.
type Common struct {
	Ref        string
	Magnitude  float64
	Confidence float64
	ObservedAt time.Time
}

func (c Common) Meta() Common { return c }

func (Common) signal() {}

// Signal is one of TrafficSignal, DemandSignal or WeatherSignal.
type Signal interface {
	Kind() Kind
	Meta() Common
	// Contribution is the signed effect on a route; positive means worse.
	Contribution() float64
	signal()
}

type TrafficSignal struct {
	Common
	Peak bool
}

func (TrafficSignal) Kind() Kind              { return Traffic }
func (s TrafficSignal) Contribution() float64 { return s.Magnitude }

type DemandSignal struct {
	Common
}

func (DemandSignal) Kind() Kind              { return Demand }
func (s DemandSignal) Contribution() float64 { return s.Magnitude }

type WeatherSignal struct {
	Common
	Favorable bool
}

func (WeatherSignal) Kind() Kind { return Weather }
func (s WeatherSignal) Contribution() float64 {
	if s.Favorable {
		return -s.Magnitude
	}
	return s.Magnitude
}

// Normalize validates raw and returns its typed form.
func Normalize(raw RawSignal) (Signal, error) {
	kind, _ := raw["kind"].(string)
	kind = strings.ToLower(strings.TrimSpace(kind))

	ref, _ := raw["ref"].(string)
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: missing ref", ErrInvalidSignal)
	}
	mag, err := unitInterval(raw, "magnitude")
	if err != nil {
		return nil, err
	}
	conf, err := unitInterval(raw, "confidence")
	if err != nil {
		return nil, err
	}
	v, ok := raw["observedAt"]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing observedAt", ErrInvalidSignal)
	}
	at, err := cast.ToTimeE(v)
	if err != nil || at.IsZero() {
		return nil, fmt.Errorf("%w: observedAt %v", ErrInvalidSignal, v)
	}
	c := Common{Ref: ref, Magnitude: mag, Confidence: conf, ObservedAt: at.UTC()}

	switch Kind(kind) {
	case Traffic:
		peak, err := optionalBool(raw, "peak")
		if err != nil {
			return nil, err
		}
		return TrafficSignal{Common: c, Peak: peak}, nil
	case Demand:
		return DemandSignal{Common: c}, nil
	case Weather:
		fav, err := optionalBool(raw, "favorable")
		if err != nil {
			return nil, err
		}
		return WeatherSignal{Common: c, Favorable: fav}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// NormalizeAll keeps the signals that normalize and counts the rest.
func NormalizeAll(raws []RawSignal) (out []Signal, discarded int) {
	for _, r := range raws {
		s, err := Normalize(r)
		if err != nil {
			reason := "invalid"
			if errors.Is(err, ErrUnknownKind) {
				reason = "unknown_kind"
			}
			metrics.PredictionDiscarded.WithLabelValues(reason).Inc()
			discarded++
			continue
		}
		out = append(out, s)
	}
	return out, discarded
}

func unitInterval(raw RawSignal, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidSignal, key)
	}
	switch v.(type) {
	case bool, map[string]any, []any:
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidSignal, key)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidSignal, key, err)
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return 0, fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidSignal, key, f)
	}
	return f, nil
}

func optionalBool(raw RawSignal, key string) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: %s is not a boolean", ErrInvalidSignal, key)
	}
	return b, nil
}
