package prediction

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"routeopt/internal/candidate"
	"routeopt/internal/network"
)

func route() *candidate.Candidate {
	return &candidate.Candidate{
		ID:       "a-b-1",
		Segments: []*network.Segment{{ID: "s1", DistanceKm: 10}, {ID: "s2", DistanceKm: 10}},
	}
}

func sig(t *testing.T, r RawSignal) Signal {
	t.Helper()
	s, err := Normalize(r)
	require.NoError(t, err)
	return s
}

func TestAdjustConfidenceWeighted(t *testing.T) {
	a := NewAdapter(nil, Options{}, nil)
	w := raw("weather", "s2", 0.5, 0.5)
	w["favorable"] = true
	signals := []Signal{
		sig(t, raw("traffic", "s1", 0.8, 1.0)),
		sig(t, w),
		sig(t, raw("traffic", "elsewhere", 1, 1)),
	}
	adj, used := a.Adjust(route(), signals, observed.Add(5*time.Minute))
	require.Equal(t, 2, used)
	require.InDelta(t, (0.8-0.25)/1.5, adj, 1e-9)
}

func TestAdjustExcludesStaleAndUnconfident(t *testing.T) {
	a := NewAdapter(nil, Options{MaxAge: 15 * time.Minute, MinConfidence: 0.3}, nil)
	asOf := observed.Add(20 * time.Minute)
	fresh := raw("traffic", "a-b-1", 0.9, 0.1)
	fresh["observedAt"] = asOf.Add(-time.Minute).Format(time.RFC3339)
	signals := []Signal{
		sig(t, raw("traffic", "s1", 0.9, 0.9)),
		sig(t, fresh),
	}
	adj, used := a.Adjust(route(), signals, asOf)
	require.Zero(t, used)
	require.Zero(t, adj)

	adj, used = a.Adjust(route(), nil, asOf)
	require.Zero(t, used)
	require.Zero(t, adj)
}

func TestUsableRejectsFutureObservations(t *testing.T) {
	a := NewAdapter(nil, Options{MaxAge: 15 * time.Minute, MaxClockSkew: time.Minute}, nil)
	skewed := raw("traffic", "s1", 0.6, 0.9)
	skewed["observedAt"] = observed.Add(30 * time.Second).Format(time.RFC3339)
	future := raw("traffic", "s1", 0.9, 0.9)
	future["observedAt"] = observed.Add(2 * time.Hour).Format(time.RFC3339)

	got := a.Usable(route(), []Signal{sig(t, skewed), sig(t, future)}, observed)
	require.Len(t, got, 1)
	require.InDelta(t, 0.6, got[0].Meta().Magnitude, 1e-9)
}

func TestAdjustStaysInRange(t *testing.T) {
	a := NewAdapter(nil, Options{}, nil)
	var signals []Signal
	for i := 0; i < 5; i++ {
		signals = append(signals, sig(t, raw("demand", "s1", 1, 1)))
	}
	adj, used := a.Adjust(route(), signals, observed)
	require.Equal(t, 5, used)
	require.InDelta(t, 1, adj, 1e-9)
}

func countingSource(calls *atomic.Int32, fn func(n int32, ctx context.Context) ([]RawSignal, error)) Source {
	return SourceFunc(func(ctx context.Context, _ []string, _ time.Time) ([]RawSignal, error) {
		return fn(calls.Add(1), ctx)
	})
}

func TestFetchRetriesTransientOnce(t *testing.T) {
	var calls atomic.Int32
	src := countingSource(&calls, func(n int32, _ context.Context) ([]RawSignal, error) {
		if n == 1 {
			return nil, &StatusError{Code: 503, Body: "busy"}
		}
		return []RawSignal{raw("traffic", "s1", 0.5, 0.9), raw("bogus", "s1", 0.5, 0.9)}, nil
	})
	a := NewAdapter(src, Options{RetryBackoff: time.Millisecond}, zaptest.NewLogger(t))
	got, err := a.Fetch(context.Background(), []string{"s1"}, observed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	src := countingSource(&calls, func(int32, context.Context) ([]RawSignal, error) {
		return nil, &StatusError{Code: 400, Body: "bad refs"}
	})
	a := NewAdapter(src, Options{RetryBackoff: time.Millisecond}, nil)
	_, err := a.Fetch(context.Background(), []string{"s1"}, observed)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchSubTimeout(t *testing.T) {
	var calls atomic.Int32
	src := countingSource(&calls, func(_ int32, ctx context.Context) ([]RawSignal, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	a := NewAdapter(src, Options{Timeout: 20 * time.Millisecond, RetryBackoff: time.Millisecond}, nil)
	start := time.Now()
	_, err := a.Fetch(context.Background(), []string{"s1"}, observed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(2), calls.Load())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchBreakerOpensAndRecovers(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	src := countingSource(&calls, func(int32, context.Context) ([]RawSignal, error) {
		if healthy.Load() {
			return nil, nil
		}
		return nil, &StatusError{Code: 400}
	})
	a := NewAdapter(src, Options{BreakerFailures: 2, BreakerCooldown: time.Minute}, nil)
	now := time.Now()
	a.breaker.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := a.Fetch(context.Background(), nil, observed)
		require.Error(t, err)
	}
	require.Equal(t, "open", a.BreakerState())

	_, err := a.Fetch(context.Background(), nil, observed)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, int32(2), calls.Load())

	now = now.Add(time.Minute)
	require.Equal(t, "half-open", a.BreakerState())
	healthy.Store(true)
	_, err = a.Fetch(context.Background(), nil, observed)
	require.NoError(t, err)
	require.Equal(t, "closed", a.BreakerState())
}

func TestFetchCallerCancelDoesNotTrip(t *testing.T) {
	src := SourceFunc(func(ctx context.Context, _ []string, _ time.Time) ([]RawSignal, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	a := NewAdapter(src, Options{BreakerFailures: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Fetch(ctx, nil, observed)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, "closed", a.BreakerState())
}

func TestStaticSourceFiltersByRef(t *testing.T) {
	src := StaticSource{Signals: []RawSignal{raw("traffic", "s1", 0.5, 0.5), raw("traffic", "zz", 0.5, 0.5)}}
	got, err := src.FetchSignals(context.Background(), []string{"s1", "s2"}, observed)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
