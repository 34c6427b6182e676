package api

import (
	"context"
	"sync"
	"time"

	"routeopt/internal/optimize"
)

// SSEEvent is one event on a request's stream.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

const eventStateChanged = "optimize.state"

// EventBroker fans events out to subscribers of one request ID.
type EventBroker interface {
	Subscribe(requestID string) chan SSEEvent
	Unsubscribe(requestID string, ch chan SSEEvent)
	Publish(requestID string, evt SSEEvent)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // requestId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(requestID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	b.mu.Lock()
	if b.subs[requestID] == nil {
		b.subs[requestID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[requestID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(requestID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[requestID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, requestID)
	}
	close(ch)
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *Broker) Publish(requestID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[requestID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// BrokerObserver publishes every optimize state transition on the broker,
// keyed by request ID.
type BrokerObserver struct {
	Broker EventBroker
}

func (o BrokerObserver) Transition(_ context.Context, ev optimize.Event) {
	data := map[string]any{
		"requestId": ev.RequestID,
		"to":        string(ev.To),
		"at":        ev.At.UTC().Format(time.RFC3339Nano),
	}
	if ev.From != "" {
		data["from"] = string(ev.From)
	}
	if ev.Code != "" {
		data["code"] = string(ev.Code)
	}
	o.Broker.Publish(ev.RequestID, SSEEvent{Type: eventStateChanged, Data: data})
}

// terminalEvent reports whether evt ends a request's stream.
func terminalEvent(evt SSEEvent) bool {
	if evt.Type != eventStateChanged {
		return false
	}
	to, _ := evt.Data["to"].(string)
	return optimize.State(to).Terminal()
}
