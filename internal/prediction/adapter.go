package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"routeopt/internal/candidate"
	"routeopt/internal/metrics"
)

// Source supplies raw signals for route or segment references. It may be slow
// or unavailable; the adapter bounds and retries every call.
type Source interface {
	FetchSignals(ctx context.Context, refs []string, asOf time.Time) ([]RawSignal, error)
}

// Options tune signal freshness and fetch resilience.
type Options struct {
	MaxAge time.Duration
	// MaxClockSkew is how far in the future an observation may be stamped
	// before it is treated as bogus.
	MaxClockSkew    time.Duration
	MinConfidence   float64
	Timeout         time.Duration
	RetryBackoff    time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAge <= 0 {
		o.MaxAge = 15 * time.Minute
	}
	if o.MaxClockSkew <= 0 {
		o.MaxClockSkew = time.Minute
	}
	if o.MinConfidence <= 0 || o.MinConfidence > 1 {
		o.MinConfidence = 0.3
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 150 * time.Millisecond
	}
	return o
}

type Adapter struct {
	src     Source
	opts    Options
	breaker *breaker
	log     *zap.Logger
}

// NewAdapter wraps src. A nil src behaves like NoopSource.
func NewAdapter(src Source, opts Options, log *zap.Logger) *Adapter {
	if src == nil {
		src = NoopSource{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Adapter{
		src:     src,
		opts:    opts,
		breaker: newBreaker(opts.BreakerFailures, opts.BreakerCooldown),
		log:     log,
	}
}

// BreakerState reports "closed", "open" or "half-open".
func (a *Adapter) BreakerState() string { return a.breaker.State() }

// Usable returns the signals that apply to c and are fresh and confident
// enough at asOf, in input order. Observations stamped further ahead of asOf
// than MaxClockSkew are dropped.
func (a *Adapter) Usable(c *candidate.Candidate, signals []Signal, asOf time.Time) []Signal {
	refs := make(map[string]struct{}, len(c.Segments)+1)
	for _, r := range c.Refs() {
		refs[r] = struct{}{}
	}
	var out []Signal
	for _, s := range signals {
		m := s.Meta()
		if _, ok := refs[m.Ref]; !ok {
			continue
		}
		age := asOf.Sub(m.ObservedAt)
		if age > a.opts.MaxAge || age < -a.opts.MaxClockSkew {
			continue
		}
		if m.Confidence < a.opts.MinConfidence || m.Confidence == 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Adjust blends the usable signals for c into a value in [-1,1], weighting
// each contribution by its confidence. Positive means the route is expected
// to be worse. It returns (0, 0) when nothing is usable.
func (a *Adapter) Adjust(c *candidate.Candidate, signals []Signal, asOf time.Time) (float64, int) {
	usable := a.Usable(c, signals, asOf)
	if len(usable) == 0 {
		return 0, 0
	}
	var num, den float64
	for _, s := range usable {
		conf := s.Meta().Confidence
		num += conf * s.Contribution()
		den += conf
	}
	adj := num / den
	return math.Max(-1, math.Min(1, adj)), len(usable)
}

// Fetch asks the source for signals on refs. Each attempt gets its own
// timeout; a transient failure is retried once after a short backoff. Signals
// that fail normalization are dropped and counted.
func (a *Adapter) Fetch(ctx context.Context, refs []string, asOf time.Time) ([]Signal, error) {
	ctx, span := otel.Tracer("routeopt/prediction").Start(ctx, "prediction.fetch")
	defer span.End()
	span.SetAttributes(attribute.Int("prediction.refs", len(refs)))

	var raws []RawSignal
	err := a.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		raws, err = a.fetchWithRetry(ctx, refs, asOf)
		return err
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrCircuitOpen) {
			outcome = "circuit_open"
		}
		metrics.PredictionFetches.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		a.log.Warn("prediction fetch failed", zap.Int("refs", len(refs)), zap.Error(err))
		return nil, err
	}
	metrics.PredictionFetches.WithLabelValues("ok").Inc()
	signals, discarded := NormalizeAll(raws)
	if discarded > 0 {
		a.log.Debug("prediction signals discarded", zap.Int("discarded", discarded), zap.Int("kept", len(signals)))
	}
	span.SetAttributes(attribute.Int("prediction.signals", len(signals)))
	return signals, nil
}

func (a *Adapter) fetchWithRetry(ctx context.Context, refs []string, asOf time.Time) ([]RawSignal, error) {
	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, cancel := context.WithTimeout(ctx, a.opts.Timeout)
		raws, err := a.src.FetchSignals(sub, refs, asOf)
		cancel()
		if err == nil {
			return raws, nil
		}
		lastErr = fmt.Errorf("prediction: fetch attempt %d: %w", attempt, err)
		if ctx.Err() != nil || !transient(err) || attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(a.opts.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// transient reports whether err is worth one retry: timeouts, network errors,
// 429 and 5xx responses, and source errors of unknown shape.
func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}
