package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	seq           int
}

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	optCfg     map[string]map[string]any // tenant -> config
	deliveries map[string]*memDelivery   // id -> delivery state
	dedup      map[string]string         // tenant|event|url|key -> delivery id
	dlq        []WebhookDelivery         // dead-lettered deliveries
	seq        int
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		optCfg:     map[string]map[string]any{},
		deliveries: map[string]*memDelivery{},
		dedup:      map[string]string{},
		now:        time.Now,
	}
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.optCfg[tenantID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	m.optCfg[tenantID] = cp
	return nil
}

// EnqueueWebhook queues a delivery. A payload already queued for the same
// tenant, event type and URL returns the existing delivery ID.
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	m.seq++
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID:        id,
			TenantID:  tenantID,
			EventType: eventType,
			URL:       url,
			Secret:    secret,
			Payload:   append([]byte(nil), payload...),
			Status:    "pending",
		},
		NextAttemptAt: m.now(),
		seq:           m.seq,
	}
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var due []*memDelivery
	for _, d := range m.deliveries {
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].seq < due[j].seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]WebhookDelivery, 0, len(due))
	for _, d := range due {
		out = append(out, d.WebhookDelivery)
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.ResponseCode, d.LatencyMs = responseCode, latencyMs
	if success {
		d.Status = "delivered"
		return nil
	}
	d.Attempts++
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = m.now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError, d.ResponseCode, d.LatencyMs = lastError, responseCode, latencyMs
	m.dlq = append(m.dlq, d.WebhookDelivery)
	return nil
}

// DeadLetters returns deliveries that exhausted their attempts.
func (m *Memory) DeadLetters() []WebhookDelivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebhookDelivery(nil), m.dlq...)
}

// Delivery returns the current state of one delivery.
func (m *Memory) Delivery(id string) (WebhookDelivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return WebhookDelivery{}, false
	}
	return d.WebhookDelivery, true
}

func (m *Memory) Ping(context.Context) error { return nil }
