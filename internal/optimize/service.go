// Package optimize is the single entry point for route optimization. It owns
// request validation, the request lifecycle, the scoring timeout and the
// partial-failure policy.
package optimize

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"routeopt/internal/candidate"
	"routeopt/internal/cost"
	"routeopt/internal/metrics"
	"routeopt/internal/network"
	"routeopt/internal/prediction"
	"routeopt/internal/rank"
	"routeopt/internal/recommend"
	"routeopt/internal/vehicle"
)

// Degraded reasons, in the order they are reported.
const (
	ReasonPredictionsUnavailable = "predictions_unavailable"
	ReasonPredictionFetchFailed  = "prediction_fetch_failed"
	ReasonCostClamped            = "cost_clamped"
	ReasonScoringTimeout         = "scoring_timeout"
	ReasonScoringCancelled       = "scoring_cancelled"
)

var reasonOrder = []string{
	ReasonPredictionsUnavailable,
	ReasonPredictionFetchFailed,
	ReasonCostClamped,
	ReasonScoringTimeout,
	ReasonScoringCancelled,
}

var errRequestTimeout = errors.New("optimize: request timeout")

// Window is an optional departure interval.
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// Request is one optimization call.
type Request struct {
	// ID is optional; when empty a UUID is assigned.
	ID              string
	Origin          string
	Destination     string
	VehicleType     string
	DepartureWindow *Window
	// Weights and AltCostThreshold override the service defaults, usually
	// from the caller's tenant configuration.
	Weights          *rank.Weights
	AltCostThreshold *float64
}

// Result is a completed optimization, possibly degraded.
type Result struct {
	RequestID       string
	Origin          network.Location
	Destination     network.Location
	Vehicle         vehicle.Profile
	Routes          []rank.Scored
	Recommendations []string
	Degraded        bool
	DegradedReasons []string
	// Snapshot is the network the request was optimized on. Location names
	// in the response come from it, not from whatever is current.
	Snapshot *network.Snapshot
}

// Config holds service-wide defaults.
type Config struct {
	RequestTimeout time.Duration
	MaxCandidates  int
	ScoringWorkers int
	Weights        rank.Weights
	Recommend      recommend.Options
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.MaxCandidates < 1 {
		c.MaxCandidates = candidate.DefaultMax
	}
	if c.ScoringWorkers < 1 {
		c.ScoringWorkers = 4
	}
	if c.Weights.Validate() != nil {
		c.Weights = rank.DefaultWeights()
	}
	if c.Recommend == (recommend.Options{}) {
		c.Recommend = recommend.DefaultOptions()
	}
	return c
}

// Deps are the collaborators the service drives.
type Deps struct {
	Network     *network.Model
	Vehicles    *vehicle.Registry
	Generator   *candidate.Generator
	Costs       *cost.Model
	Predictions *prediction.Adapter
	Observer    Observer
	Logger      *zap.Logger
}

type Service struct {
	deps Deps
	cfg  Config
	log  *zap.Logger
	now  func() time.Time
}

func New(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Generator == nil {
		d.Generator = candidate.NewGenerator(candidate.Options{})
	}
	if d.Predictions == nil {
		d.Predictions = prediction.NewAdapter(nil, prediction.Options{}, d.Logger)
	}
	return &Service{deps: d, cfg: cfg.withDefaults(), log: d.Logger, now: time.Now}
}

// Config returns the effective defaults.
func (s *Service) Config() Config { return s.cfg }

type validated struct {
	snap    *network.Snapshot
	origin  network.Location
	dest    network.Location
	profile vehicle.Profile
	weights rank.Weights
	recs    recommend.Options
	window  *recommend.Window
}

// Optimize runs one request to completion. A returned error is always an
// *Error raised while validating; once candidates exist the call returns a
// Result, degraded if scoring timed out, was cancelled, or ran without
// predictions.
func (s *Service) Optimize(ctx context.Context, req Request) (*Result, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ctx, span := otel.Tracer("routeopt/optimize").Start(ctx, "optimize")
	defer span.End()
	span.SetAttributes(attribute.String("optimize.request_id", id))

	log := s.log.With(zap.String("request_id", id))
	tr := newTracker(ctx, id, s.deps.Observer, span, s.now)

	fail := func(err *Error) (*Result, error) {
		_ = tr.to(ctx, Failed, err.Code)
		metrics.OptimizeRequests.WithLabelValues(string(err.Code)).Inc()
		log.Info("optimize rejected", zap.String("code", string(err.Code)), zap.String("reason", err.Message))
		return nil, err
	}

	if err := tr.to(ctx, Validating, ""); err != nil {
		return nil, err
	}
	v, verr := s.validate(req)
	if verr != nil {
		return fail(verr)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, s.cfg.RequestTimeout, errRequestTimeout)
	defer cancel()

	_ = tr.to(ctx, Generating, "")
	cands, err := s.deps.Generator.Generate(v.snap, v.origin, v.dest, v.profile, s.cfg.MaxCandidates)
	if err != nil {
		// Validation already proved reachability on this snapshot.
		log.Error("candidate generation failed after validation", zap.Error(err))
		metrics.OptimizeRequests.WithLabelValues(string(CodeNoRouteFound)).Inc()
		return nil, newError(CodeNoRouteFound, err, "no route from %s to %s", v.origin.Name, v.dest.Name)
	}

	_ = tr.to(ctx, Scoring, "")
	scored, flags := s.score(ctx, cands, v.profile)

	_ = tr.to(ctx, Ranking, "")
	routes, err := rank.Rank(scored, v.weights)
	if err != nil {
		// Weights were validated; fall back to defaults rather than fail.
		log.Error("ranking with request weights failed", zap.Error(err))
		routes, _ = rank.Rank(scored, rank.DefaultWeights())
	}

	_ = tr.to(ctx, Synthesizing, "")
	recs := recommend.Synthesize(routes, v.profile, recommend.Inputs{
		Window:  v.window,
		Options: v.recs,
		Name: func(id string) string {
			if l, ok := v.snap.Location(id); ok {
				return l.Name
			}
			return id
		},
	})

	res := &Result{
		RequestID:       id,
		Origin:          v.origin,
		Destination:     v.dest,
		Vehicle:         v.profile,
		Routes:          routes,
		Recommendations: recs,
		Snapshot:        v.snap,
	}
	for _, r := range reasonOrder {
		if flags[r] {
			res.DegradedReasons = append(res.DegradedReasons, r)
			metrics.OptimizeDegraded.WithLabelValues(r).Inc()
		}
	}
	res.Degraded = len(res.DegradedReasons) > 0

	_ = tr.to(ctx, Completed, "")
	outcome := "completed"
	if res.Degraded {
		outcome = "degraded"
	}
	metrics.OptimizeRequests.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.Int("optimize.routes", len(routes)), attribute.Bool("optimize.degraded", res.Degraded))
	log.Info("optimize completed",
		zap.String("origin", v.origin.ID),
		zap.String("destination", v.dest.ID),
		zap.String("vehicle", string(v.profile.Type)),
		zap.Int("candidates", len(cands)),
		zap.Int("routes", len(routes)),
		zap.Strings("degraded_reasons", res.DegradedReasons))
	return res, nil
}

func (s *Service) validate(req Request) (validated, *Error) {
	var v validated

	typ := vehicle.Type(strings.ToLower(strings.TrimSpace(req.VehicleType)))
	if typ == "" {
		typ = vehicle.DefaultType
	}
	p, err := s.deps.Vehicles.Lookup(typ)
	if err != nil {
		return v, newError(CodeInvalidVehicleType, err, "unsupported vehicle type %q", req.VehicleType)
	}
	v.profile = p

	v.snap = s.deps.Network.Snapshot()
	if v.origin, err = v.snap.Resolve(req.Origin); err != nil {
		return v, newError(CodeInvalidLocation, err, "cannot resolve origin %q", req.Origin)
	}
	if v.dest, err = v.snap.Resolve(req.Destination); err != nil {
		return v, newError(CodeInvalidLocation, err, "cannot resolve destination %q", req.Destination)
	}
	if v.origin.ID == v.dest.ID {
		return v, newError(CodeInvalidLocation, nil, "origin and destination both resolve to %s", v.origin.Name)
	}

	if w := req.DepartureWindow; w != nil {
		if !w.Earliest.IsZero() && !w.Latest.IsZero() && w.Earliest.After(w.Latest) {
			return v, newError(CodeInvalidRequest, nil, "departure window starts after it ends")
		}
		v.window = &recommend.Window{Earliest: w.Earliest, Latest: w.Latest}
	}

	v.weights = s.cfg.Weights
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return v, newError(CodeInvalidRequest, err, "invalid ranking weights")
		}
		v.weights = *req.Weights
	}
	v.recs = s.cfg.Recommend
	if req.AltCostThreshold != nil {
		if *req.AltCostThreshold < 0 {
			return v, newError(CodeInvalidRequest, nil, "alternate cost threshold must be >= 0")
		}
		v.recs.AltCostThreshold = *req.AltCostThreshold
	}

	allowed := string(p.Type)
	if !v.snap.Reachable(v.origin.ID, v.dest.ID, func(seg *network.Segment) bool { return seg.AllowedFor(allowed) }) {
		return v, newError(CodeNoRouteFound, candidate.ErrNoRouteFound, "no %s route from %s to %s", p.Type, v.origin.Name, v.dest.Name)
	}
	return v, nil
}

type outcome struct {
	route       rank.Scored
	fetchFailed bool
	ok          bool
}

// score fans out one task per candidate, bounded by the worker count, and
// collects results until every task reports or ctx ends. Tasks that finish
// after ctx ends are discarded. The result channel is buffered so abandoned
// tasks never block.
func (s *Service) score(ctx context.Context, cands []candidate.Candidate, p vehicle.Profile) ([]rank.Scored, map[string]bool) {
	flags := make(map[string]bool)
	asOf := s.now().UTC()
	sem := make(chan struct{}, s.cfg.ScoringWorkers)
	results := make(chan outcome, len(cands))

	for i := range cands {
		c := &cands[i]
		go func() {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- outcome{}
				return
			}
			defer func() { <-sem }()
			results <- s.scoreOne(ctx, c, p, asOf)
		}()
	}

	var scored []rank.Scored
	collect := func(o outcome) {
		if !o.ok {
			return
		}
		if o.fetchFailed {
			flags[ReasonPredictionFetchFailed] = true
		}
		if o.route.Cost.Clamped {
			flags[ReasonCostClamped] = true
		}
		if len(o.route.Signals) == 0 {
			flags[ReasonPredictionsUnavailable] = true
		}
		scored = append(scored, o.route)
	}

	received := 0
wait:
	for received < len(cands) {
		select {
		case o := <-results:
			received++
			collect(o)
		case <-ctx.Done():
			break wait
		}
	}
	if received < len(cands) {
		// Keep what finished before the deadline and is already queued.
		for drained := false; !drained; {
			select {
			case o := <-results:
				collect(o)
			default:
				drained = true
			}
		}
	}
	if len(scored) < len(cands) && ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), errRequestTimeout) {
			flags[ReasonScoringTimeout] = true
		} else {
			flags[ReasonScoringCancelled] = true
		}
		s.log.Warn("scoring ended early",
			zap.Int("candidates", len(cands)),
			zap.Int("scored", len(scored)),
			zap.Error(context.Cause(ctx)))
	}
	return scored, flags
}

func (s *Service) scoreOne(ctx context.Context, c *candidate.Candidate, p vehicle.Profile, asOf time.Time) outcome {
	if ctx.Err() != nil {
		return outcome{}
	}
	breakdown, sched := s.deps.Costs.Cost(c, p)

	signals, err := s.deps.Predictions.Fetch(ctx, c.Refs(), asOf)
	if ctx.Err() != nil {
		return outcome{}
	}
	usable := s.deps.Predictions.Usable(c, signals, asOf)
	adj, _ := s.deps.Predictions.Adjust(c, usable, asOf)
	return outcome{
		ok:          true,
		fetchFailed: err != nil,
		route: rank.Scored{
			Candidate:     c,
			Cost:          breakdown,
			Schedule:      sched,
			DurationHours: sched.TotalHours,
			Adjustment:    adj,
			Signals:       usable,
		},
	}
}
