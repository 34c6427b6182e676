package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routeopt/internal/network"
	"routeopt/internal/vehicle"
)

//go:embed schema.sql
var schemaSQL string

type Postgres struct {
	db *sql.DB
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
	row := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE tenant_id=$1`, tenantID)
	var js []byte
	if err := row.Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(js, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
	js, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO optimizer_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
	return err
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	dk := computeDedupKey(payload)
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
		ON CONFLICT (tenant_id, event_type, url, dedup_key) DO UPDATE SET updated_at=webhook_deliveries.updated_at
		RETURNING id::text`, id, tenantID, eventType, url, nullIfEmpty(secret), payload, dk).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

// FailWebhookDelivery marks the delivery failed and copies it to the
// dead-letter table in one transaction.
func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (tenant_id, delivery_id, event_type, url, payload, attempts, last_error)
		SELECT tenant_id, id, event_type, url, payload, attempts, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError)); err != nil {
		return err
	}
	return tx.Commit()
}

// NetworkSource returns a network source backed by the locations and
// road_segments tables.
func (p *Postgres) NetworkSource() network.Source { return pgNetwork{p} }

type pgNetwork struct{ p *Postgres }

func (pgNetwork) Name() string { return "postgres" }

func (n pgNetwork) Load(ctx context.Context) (network.Data, error) {
	return n.p.LoadNetwork(ctx)
}

// LoadNetwork reads every location and road segment. Array columns are read
// as JSON text so the stdlib driver needs no array support.
func (p *Postgres) LoadNetwork(ctx context.Context) (network.Data, error) {
	var d network.Data
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, array_to_json(aliases)::text, lat, lng FROM locations ORDER BY id`)
	if err != nil {
		return d, fmt.Errorf("store: load locations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l network.LocationSpec
		var aliases string
		if err := rows.Scan(&l.ID, &l.Name, &aliases, &l.Lat, &l.Lng); err != nil {
			return d, err
		}
		if l.Aliases, err = decodeTextArray(aliases); err != nil {
			return d, fmt.Errorf("store: location %s aliases: %w", l.ID, err)
		}
		d.Locations = append(d.Locations, l)
	}
	if err := rows.Err(); err != nil {
		return d, err
	}

	segs, err := p.db.QueryContext(ctx, `SELECT id, from_id, to_id, distance_km, hours, road_class, toll, oneway, array_to_json(restricted)::text
		FROM road_segments ORDER BY id`)
	if err != nil {
		return d, fmt.Errorf("store: load road segments: %w", err)
	}
	defer segs.Close()
	for segs.Next() {
		var s network.SegmentSpec
		var restricted string
		if err := segs.Scan(&s.ID, &s.From, &s.To, &s.DistanceKm, &s.Hours, &s.RoadClass, &s.Toll, &s.Oneway, &restricted); err != nil {
			return d, err
		}
		if s.Restricted, err = decodeTextArray(restricted); err != nil {
			return d, fmt.Errorf("store: segment %s restrictions: %w", s.ID, err)
		}
		d.Segments = append(d.Segments, s)
	}
	return d, segs.Err()
}

// LoadVehicles reads the vehicle_profiles table. An empty table returns
// ErrNotFound so callers can keep their defaults.
func (p *Postgres) LoadVehicles(ctx context.Context) (*vehicle.Table, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT type, fuel_burn_l_per_km, toll_class, avg_speed_kph, max_driving_hours FROM vehicle_profiles ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("store: load vehicles: %w", err)
	}
	defer rows.Close()
	var profiles []vehicle.Profile
	for rows.Next() {
		var v vehicle.Profile
		if err := rows.Scan(&v.Type, &v.FuelBurnLPerKm, &v.TollClass, &v.AvgSpeedKph, &v.MaxDrivingHours); err != nil {
			return nil, err
		}
		profiles = append(profiles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, ErrNotFound
	}
	return vehicle.NewTable(profiles)
}

func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func decodeTextArray(js string) ([]string, error) {
	if js == "" || js == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(js), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
