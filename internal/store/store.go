// Package store persists tenant optimizer settings and the webhook delivery
// queue, and serves the road network and vehicle tables when they live in
// Postgres.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence interface used by the API server and the webhook
// worker.
type Store interface {
	// Optimizer config per tenant. A tenant with nothing saved gets (nil, nil).
	GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error)
	SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error

	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

type WebhookDelivery struct {
	ID        string
	TenantID  string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Status    string
	Attempts  int
}
