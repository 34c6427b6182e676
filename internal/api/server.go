// Package api implements the HTTP and WebSocket surface of the route
// optimization service.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"routeopt/internal/auth"
	"routeopt/internal/config"
	"routeopt/internal/metrics"
	"routeopt/internal/network"
	"routeopt/internal/optimize"
	"routeopt/internal/prediction"
	"routeopt/internal/store"
	"routeopt/internal/vehicle"
	"routeopt/internal/webhooks"
)

// Deps are the collaborators a Server needs. Service, Network and Vehicles are
// required; the rest fall back to in-memory or disabled variants.
type Deps struct {
	Service     *optimize.Service
	Network     *network.Model
	Vehicles    *vehicle.Registry
	Predictions *prediction.Adapter
	Store       store.Store
	Broker      EventBroker

	// NetworkSource is re-read by the reload endpoint. SnapshotOptions apply
	// to every snapshot the server builds.
	NetworkSource   network.Source
	SnapshotOptions []network.Option
	// LoadVehicles, when set, refreshes the vehicle table on reload.
	LoadVehicles func(ctx context.Context) (*vehicle.Table, error)
}

type Server struct {
	Cfg config.Config
	Log *zap.Logger
	Deps
	Pub  *webhooks.Publisher
	Auth *auth.Verifier
}

func NewServer(cfg config.Config, log *zap.Logger, d Deps) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if d.Store == nil {
		d.Store = store.NewMemory()
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	if d.NetworkSource == nil {
		d.NetworkSource = network.Embedded()
	}
	return &Server{
		Cfg:  cfg,
		Log:  log,
		Deps: d,
		Pub:  webhooks.NewPublisher(d.Store, cfg.Webhook.URLs, cfg.Webhook.Secret),
		Auth: auth.NewVerifier(cfg.Auth),
	}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimize/ws", s.OptimizeWSHandler)
	mux.HandleFunc("/v1/optimize/", s.OptimizeEventsHandler) // /v1/optimize/{id}/events
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

	// Reference data
	mux.HandleFunc("/v1/network/locations", s.LocationsHandler)
	mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)

	// Admin
	mux.HandleFunc("/v1/admin/optimizer/config", s.AdminOptimizerConfigHandler)
	mux.HandleFunc("/v1/admin/network/reload", s.NetworkReloadHandler)

	// Ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", s.DebugJSON)
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	return mux
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhook.MaxAttempts, s.Log.Named("webhooks"))
}
