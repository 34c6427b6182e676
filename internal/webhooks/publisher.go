package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routeopt/internal/store"
)

// Event types emitted by the service.
const (
	EventOptimizationCompleted = "optimization.completed"
	EventNetworkReloaded       = "network.reloaded"
)

// Publisher queues events for every configured endpoint. Delivery happens in
// the Worker.
type Publisher struct {
	Store  store.Store
	URLs   []string
	Secret string
	now    func() time.Time
}

func NewPublisher(s store.Store, urls []string, secret string) *Publisher {
	return &Publisher{Store: s, URLs: urls, Secret: secret, now: time.Now}
}

// Enabled reports whether any endpoint is configured.
func (p *Publisher) Enabled() bool { return p != nil && len(p.URLs) > 0 }

// Emit enqueues one delivery per URL and returns the event ID.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) (string, error) {
	if !p.Enabled() {
		return "", nil
	}
	id := "evt_" + uuid.NewString()
	body, err := json.Marshal(map[string]any{
		"id":       id,
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       p.now().UTC().Format(time.RFC3339),
		"data":     data,
	})
	if err != nil {
		return "", fmt.Errorf("webhooks: encode %s: %w", eventType, err)
	}
	var errs []error
	for _, u := range p.URLs {
		if _, err := p.Store.EnqueueWebhook(ctx, tenantID, eventType, u, p.Secret, body); err != nil {
			errs = append(errs, fmt.Errorf("webhooks: enqueue %s for %s: %w", eventType, u, err))
		}
	}
	return id, errors.Join(errs...)
}
