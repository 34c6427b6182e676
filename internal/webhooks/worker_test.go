package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"routeopt/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []markRec
	fails []string
}

type markRec struct {
	ID      string
	Success bool
	Code    int
	LastErr string
	Next    *time.Time
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, markRec{ID: id, Success: success, Code: responseCode, LastErr: lastError, Next: nextAttemptAt})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}

func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, id)
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestPublishAndDeliverSigned(t *testing.T) {
	var (
		mu      sync.Mutex
		gotBody []byte
		gotSig  string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody, gotSig, gotType = b, r.Header.Get("X-Signature"), r.Header.Get("X-Event-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	pub := NewPublisher(rs, []string{srv.URL}, "secret")
	evtID, err := pub.Emit(context.Background(), "t1", EventOptimizationCompleted, map[string]any{"requestId": "r1"})
	require.NoError(t, err)
	require.NotEmpty(t, evtID)

	w := NewWorker(rs, 3, zaptest.NewLogger(t))
	w.HTTP = srv.Client()
	w.processOnce(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, EventOptimizationCompleted, gotType)
	require.True(t, VerifyHMAC("secret", gotBody, gotSig))
	var env map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &env))
	require.Equal(t, evtID, env["id"])
	require.Equal(t, "t1", env["tenantId"])
	require.Len(t, rs.marks, 1)
	require.True(t, rs.marks[0].Success)
	require.Equal(t, http.StatusNoContent, rs.marks[0].Code)
}

func TestDeliveryRetriesThenDeadLetters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	pub := NewPublisher(rs, []string{srv.URL}, "")
	_, err := pub.Emit(context.Background(), "t1", EventNetworkReloaded, nil)
	require.NoError(t, err)

	w := NewWorker(rs, 2, zaptest.NewLogger(t))
	w.HTTP = srv.Client()
	clock := time.Now()
	w.now = func() time.Time { return clock }

	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)
	require.False(t, rs.marks[0].Success)
	require.Equal(t, "unexpected status 500", rs.marks[0].LastErr)
	require.Equal(t, clock.Add(time.Second), *rs.marks[0].Next)
	require.Empty(t, rs.fails)

	// Nothing is due until the backoff passes.
	w.processOnce(context.Background())
	require.Len(t, rs.marks, 1)

	require.Eventually(t, func() bool {
		w.processOnce(context.Background())
		return len(rs.fails) == 1
	}, 5*time.Second, 100*time.Millisecond)
	require.Len(t, rs.DeadLetters(), 1)
}

func TestPublisherDisabledWithoutURLs(t *testing.T) {
	rs := store.NewMemory()
	pub := NewPublisher(rs, nil, "")
	require.False(t, pub.Enabled())
	id, err := pub.Emit(context.Background(), "t1", EventNetworkReloaded, nil)
	require.NoError(t, err)
	require.Empty(t, id)
	due, _ := rs.FetchDueWebhookDeliveries(context.Background(), 10)
	require.Empty(t, due)
}

func TestNextBackoff(t *testing.T) {
	require.Equal(t, time.Second, nextBackoff(-3))
	require.Equal(t, 8*time.Second, nextBackoff(3))
	require.Equal(t, 1024*time.Second, nextBackoff(40))
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := SignHMAC("k", body)
	require.True(t, VerifyHMAC("k", body, sig))
	require.True(t, VerifyHMAC("k", body, "sha256="+sig))
	require.False(t, VerifyHMAC("other", body, sig))
	require.False(t, VerifyHMAC("k", body, "zz"))
}
