package prediction

import (
	"context"
	"time"
)

// NoopSource never has signals.
type NoopSource struct{}

func (NoopSource) FetchSignals(context.Context, []string, time.Time) ([]RawSignal, error) {
	return nil, nil
}

// StaticSource serves a fixed set of raw signals, filtered by ref.
type StaticSource struct {
	Signals []RawSignal
}

func (s StaticSource) FetchSignals(ctx context.Context, refs []string, _ time.Time) ([]RawSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		want[r] = struct{}{}
	}
	var out []RawSignal
	for _, raw := range s.Signals {
		ref, _ := raw["ref"].(string)
		if _, ok := want[ref]; ok {
			out = append(out, raw)
		}
	}
	return out, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, refs []string, asOf time.Time) ([]RawSignal, error)

func (f SourceFunc) FetchSignals(ctx context.Context, refs []string, asOf time.Time) ([]RawSignal, error) {
	return f(ctx, refs, asOf)
}
