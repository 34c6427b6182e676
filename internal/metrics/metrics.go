package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OptimizeRequests counts optimize calls by outcome (completed, degraded, or an error code).
	OptimizeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_requests_total", Help: "Optimize requests by outcome."},
		[]string{"outcome"},
	)
	// OptimizeStageDuration tracks time spent in each facade stage.
	OptimizeStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimize_stage_duration_seconds", Help: "Time spent per optimize stage.", Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5}},
		[]string{"stage"},
	)
	// OptimizeDegraded counts degraded results by reason.
	OptimizeDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_degraded_total", Help: "Degraded optimize results by reason."},
		[]string{"reason"},
	)

	// PredictionFetches counts prediction source calls by outcome.
	PredictionFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "prediction_fetch_total", Help: "Prediction source fetches by outcome."},
		[]string{"outcome"},
	)
	// PredictionDiscarded counts raw signals rejected during normalization.
	PredictionDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "prediction_signals_discarded_total", Help: "Prediction signals discarded by reason."},
		[]string{"reason"},
	)

	// CostClamps counts cost breakdowns that needed a negative value clamped.
	CostClamps = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cost_clamps_total", Help: "Cost breakdowns with clamped negative components."},
	)

	// NetworkReloads counts network snapshot reloads by outcome.
	NetworkReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "network_reloads_total", Help: "Network snapshot reloads by outcome."},
		[]string{"outcome"},
	)
	// NetworkSegments reports the directed segment count of the active snapshot.
	NetworkSegments = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "network_segments", Help: "Directed road segments in the active network snapshot."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			OptimizeRequests,
			OptimizeStageDuration,
			OptimizeDegraded,
			PredictionFetches,
			PredictionDiscarded,
			CostClamps,
			NetworkReloads,
			NetworkSegments,
			WebhookDeliveries,
			WebhookLatency,
		)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
