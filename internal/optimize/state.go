package optimize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"routeopt/internal/metrics"
)

// ErrIllegalTransition is returned when a request tries to move between two
// states that are not adjacent in the lifecycle.
var ErrIllegalTransition = errors.New("optimize: illegal state transition")

// State is a request's position in the optimization lifecycle.
type State string

const (
	Received     State = "received"
	Validating   State = "validating"
	Generating   State = "generating"
	Scoring      State = "scoring"
	Ranking      State = "ranking"
	Synthesizing State = "synthesizing"
	Completed    State = "completed"
	Failed       State = "failed"
)

var transitions = map[State][]State{
	Received:     {Validating, Failed},
	Validating:   {Generating, Failed},
	Generating:   {Scoring},
	Scoring:      {Ranking},
	Ranking:      {Synthesizing},
	Synthesizing: {Completed},
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Completed || s == Failed }

// Event describes one state change.
type Event struct {
	RequestID string    `json:"requestId"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	At        time.Time `json:"at"`
	// Code is set on transitions to Failed.
	Code Code `json:"code,omitempty"`
}

// Observer is told about every state change of every request.
type Observer interface {
	Transition(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Transition(ctx context.Context, ev Event) { f(ctx, ev) }

type tracker struct {
	id      string
	state   State
	entered time.Time
	obs     Observer
	span    trace.Span
	now     func() time.Time
}

func newTracker(ctx context.Context, id string, obs Observer, span trace.Span, now func() time.Time) *tracker {
	t := &tracker{id: id, state: Received, entered: now(), obs: obs, span: span, now: now}
	if obs != nil {
		obs.Transition(ctx, Event{RequestID: id, To: Received, At: t.entered})
	}
	return t
}

func (t *tracker) to(ctx context.Context, next State, code Code) error {
	if !CanTransition(t.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, next)
	}
	at := t.now()
	metrics.OptimizeStageDuration.WithLabelValues(string(t.state)).Observe(at.Sub(t.entered).Seconds())
	ev := Event{RequestID: t.id, From: t.state, To: next, At: at, Code: code}
	t.state, t.entered = next, at
	if t.span != nil {
		t.span.AddEvent("state", trace.WithAttributes(attribute.String("optimize.state", string(next))))
	}
	if t.obs != nil {
		t.obs.Transition(ctx, ev)
	}
	return nil
}
