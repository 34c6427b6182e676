package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestHTTPSource(t *testing.T) {
	var got signalsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/signals", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"signals": []RawSignal{raw("traffic", "s1", 0.4, 0.8)}})
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", 100, srv.Client())
	out, err := src.FetchSignals(context.Background(), []string{"s1", "s2"}, observed)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []string{"s1", "s2"}, got.Refs)
	require.True(t, got.AsOf.Equal(observed))

	s, err := Normalize(out[0])
	require.NoError(t, err)
	require.Equal(t, Traffic, s.Kind())
}

func TestHTTPSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, 0, nil).FetchSignals(context.Background(), []string{"s1"}, observed)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.Code)
	require.True(t, transient(err))
}

func TestRedisSource(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b, _ := json.Marshal(raw("demand", "s1", 0.3, 0.7))
	_, err := mr.Lpush(RedisKeyPrefix+"s1", string(b))
	require.NoError(t, err)
	_, err = mr.Lpush(RedisKeyPrefix+"s1", "{not json")
	require.NoError(t, err)
	b, _ = json.Marshal(raw("traffic", "a-b-1", 0.6, 0.9))
	_, err = mr.Lpush(RedisKeyPrefix+"a-b-1", string(b))
	require.NoError(t, err)

	out, err := NewRedisSource(rdb).FetchSignals(context.Background(), []string{"a-b-1", "s1", "missing"}, observed)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a-b-1", out[0]["ref"])
	require.Equal(t, "s1", out[1]["ref"])
}

func TestRedisSourceUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedisSource(rdb).FetchSignals(context.Background(), []string{"s1"}, observed)
	require.Error(t, err)
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats not ready")
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSFeed(t *testing.T) {
	nc := startNATS(t)
	feed, err := NewNATSFeed(nc, "predictions.signals", 15*time.Minute, nil)
	require.NoError(t, err)
	defer feed.Close()
	require.NoError(t, nc.Flush())

	one, _ := json.Marshal(raw("traffic", "s1", 0.5, 0.9))
	batch, _ := json.Marshal([]RawSignal{raw("demand", "s2", 0.2, 0.6), raw("weather", "zz", 0.1, 0.9)})
	require.NoError(t, nc.Publish("predictions.signals", one))
	require.NoError(t, nc.Publish("predictions.signals", batch))
	require.NoError(t, nc.Publish("predictions.signals", []byte("garbage")))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool {
		out, err := feed.FetchSignals(context.Background(), []string{"s1", "s2"}, observed)
		return err == nil && len(out) == 2
	}, 5*time.Second, 10*time.Millisecond)

	feed.mu.Lock()
	feed.now = func() time.Time { return time.Now().Add(time.Hour) }
	feed.mu.Unlock()
	out, err := feed.FetchSignals(context.Background(), []string{"s1", "s2", "zz"}, observed)
	require.NoError(t, err)
	require.Empty(t, out)
}
