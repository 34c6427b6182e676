package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"routeopt/internal/auth"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/network"
	"routeopt/internal/optimize"
	"routeopt/internal/webhooks"
)

const maxBodyBytes = 1 << 20

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/optimize" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.authorize(w, r, optimizeRoles...)
	if !ok {
		return
	}
	var body model.OptimizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeCodedProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path, string(optimize.CodeInvalidRequest))
		return
	}
	req, err := validateOptimizeRequest(&body)
	if err != nil {
		writeCodedProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path, string(optimize.CodeInvalidRequest))
		return
	}
	if req.ID, err = requestID(r); err != nil {
		writeCodedProblem(w, http.StatusBadRequest, "Invalid request ID", err.Error(), r.URL.Path, string(optimize.CodeInvalidRequest))
		return
	}
	s.applyTenantConfig(r.Context(), p, &req)

	res, err := s.Service.Optimize(r.Context(), req)
	if err != nil {
		writeOptimizeError(w, err, r.URL.Path)
		return
	}
	out := toResponse(res)
	s.emitCompleted(r.Context(), p.Tenant, out)
	w.Header().Set("X-Request-Id", res.RequestID)
	writeJSON(w, http.StatusOK, out)
}

// requestID returns the caller-chosen X-Request-Id, if any.
func requestID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if len(id) > 128 {
		return "", fmt.Errorf("X-Request-Id must be at most 128 bytes")
	}
	if strings.ContainsAny(id, "/ \t") {
		return "", fmt.Errorf("X-Request-Id must not contain slashes or spaces")
	}
	return id, nil
}

func (s *Server) applyTenantConfig(ctx context.Context, p auth.Principal, req *optimize.Request) {
	cfg, err := s.Store.GetOptimizerConfig(ctx, p.Tenant)
	if err != nil {
		s.Log.Warn("tenant optimizer config unavailable; using defaults", zap.String("tenant", p.Tenant), zap.Error(err))
		return
	}
	weights, alt, err := tenantOverrides(cfg, s.Service.Config().Weights)
	if err != nil {
		s.Log.Warn("ignoring invalid tenant optimizer config", zap.String("tenant", p.Tenant), zap.Error(err))
		return
	}
	req.Weights, req.AltCostThreshold = weights, alt
}

func (s *Server) emitCompleted(ctx context.Context, tenant string, out model.OptimizeResponse) {
	if !s.Pub.Enabled() {
		return
	}
	summary := map[string]any{
		"requestId":       out.RequestID,
		"origin":          out.Origin.ID,
		"destination":     out.Destination.ID,
		"vehicleType":     out.VehicleType,
		"routes":          len(out.Routes),
		"degraded":        out.Degraded,
		"degradedReasons": out.DegradedReasons,
	}
	if len(out.Routes) > 0 {
		summary["bestCandidateId"] = out.Routes[0].CandidateID
		summary["bestCostTotal"] = out.Routes[0].Cost.Total
	}
	if _, err := s.Pub.Emit(context.WithoutCancel(ctx), tenant, webhooks.EventOptimizationCompleted, summary); err != nil {
		s.Log.Warn("enqueue webhook", zap.String("event_type", webhooks.EventOptimizationCompleted), zap.Error(err))
	}
}

// OptimizeEventsHandler handles GET /v1/optimize/{id}/events. The stream ends
// when the request reaches a terminal state or the client goes away. Clients
// subscribe first and then send the optimize call with the same X-Request-Id.
func (s *Server) OptimizeEventsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/optimize/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, optimizeRoles...); !ok {
		return
	}
	id := parts[0]
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"requestId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			if terminalEvent(evt) {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

// OptimizerConfigHandler returns the effective optimizer configuration for
// the caller's tenant.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.authorize(w, r, readRoles...)
	if !ok {
		return
	}
	eff := s.Service.Config()
	out := model.OptimizerConfig{
		CostWeight:       eff.Weights.Cost,
		TimeWeight:       eff.Weights.Time,
		RiskWeight:       eff.Weights.Risk,
		AltCostThreshold: eff.Recommend.AltCostThreshold,
		MaxCandidates:    eff.MaxCandidates,
		RequestTimeoutMs: eff.RequestTimeout.Milliseconds(),
	}
	cfg, err := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load config failed", err.Error(), r.URL.Path)
		return
	}
	if weights, alt, err := tenantOverrides(cfg, eff.Weights); err == nil {
		if weights != nil {
			out.CostWeight, out.TimeWeight, out.RiskWeight = weights.Cost, weights.Time, weights.Risk
		}
		if alt != nil {
			out.AltCostThreshold = *alt
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": p.Tenant, "defaults": out})
}

// AdminOptimizerConfigHandler gets or replaces the tenant's overrides.
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authorize(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load config failed", err.Error(), r.URL.Path)
			return
		}
		if cfg == nil {
			cfg = map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
	case http.MethodPut:
		var body struct {
			Config map[string]any `json:"config"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Config == nil {
			writeProblem(w, http.StatusBadRequest, "Missing config", "", r.URL.Path)
			return
		}
		cfg, err := normalizeTenantConfig(body.Config, s.Service.Config().Weights)
		if err != nil {
			writeCodedProblem(w, http.StatusBadRequest, "Invalid config", err.Error(), r.URL.Path, string(optimize.CodeInvalidRequest))
			return
		}
		if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, cfg); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
			return
		}
		s.Log.Info("tenant optimizer config saved", zap.String("tenant", p.Tenant), zap.Any("config", cfg))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": cfg})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// NetworkReloadHandler handles POST /v1/admin/network/reload. A YAML body
// replaces the network with its contents; an empty body re-reads the
// configured source. In-flight requests keep the snapshot they started with.
func (s *Server) NetworkReloadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := s.authorize(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8*maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read body failed", err.Error(), r.URL.Path)
		return
	}

	var snap *network.Snapshot
	if len(strings.TrimSpace(string(body))) > 0 {
		data, perr := network.ParseYAML(body)
		if perr != nil {
			err = perr
		} else {
			opts := append([]network.Option{network.WithSource("upload")}, s.SnapshotOptions...)
			snap, err = network.NewSnapshot(data, opts...)
		}
	} else {
		snap, err = network.Build(r.Context(), s.NetworkSource, s.SnapshotOptions...)
	}
	if err == nil {
		err = s.Network.Reload(snap)
	}
	if err != nil {
		metrics.NetworkReloads.WithLabelValues("error").Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, network.ErrInvalidData) {
			status = http.StatusBadRequest
		}
		s.Log.Warn("network reload failed", zap.Error(err))
		writeProblem(w, status, "Network reload failed", err.Error(), r.URL.Path)
		return
	}
	metrics.NetworkReloads.WithLabelValues("ok").Inc()
	metrics.NetworkSegments.Set(float64(snap.SegmentCount()))

	if s.LoadVehicles != nil {
		t, verr := s.LoadVehicles(r.Context())
		if verr == nil {
			verr = s.Vehicles.Reload(t)
		}
		if verr != nil {
			s.Log.Warn("vehicle table reload failed; keeping previous table", zap.Error(verr))
		}
	}

	out := model.NetworkReloadResponse{
		Source:    snap.Source(),
		Locations: len(snap.Locations()),
		Segments:  snap.SegmentCount(),
		LoadedAt:  snap.LoadedAt().UTC().Format(time.RFC3339),
	}
	s.Log.Info("network reloaded", zap.String("source", out.Source), zap.Int("locations", out.Locations), zap.Int("segments", out.Segments))
	if s.Pub.Enabled() {
		if _, err := s.Pub.Emit(context.WithoutCancel(r.Context()), p.Tenant, webhooks.EventNetworkReloaded, out); err != nil {
			s.Log.Warn("enqueue webhook", zap.String("event_type", webhooks.EventNetworkReloaded), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// LocationsHandler lists the locations of the active network. With ?q= it
// resolves a single name, alias, ID or "lat,lng" query.
func (s *Server) LocationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, readRoles...); !ok {
		return
	}
	snap := s.Network.Snapshot()
	if q := r.URL.Query().Get("q"); q != "" {
		loc, err := snap.Resolve(q)
		if err != nil {
			writeCodedProblem(w, http.StatusNotFound, "Unknown location", err.Error(), r.URL.Path, string(optimize.CodeInvalidLocation))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": []model.LocationOut{toLocation(loc)}})
		return
	}
	locs := snap.Locations()
	items := make([]model.LocationOut, 0, len(locs))
	for _, l := range locs {
		items = append(items, toLocation(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "source": snap.Source()})
}

// VehiclesHandler lists the supported vehicle profiles.
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.authorize(w, r, readRoles...); !ok {
		return
	}
	profiles := s.Vehicles.List()
	items := make([]model.VehicleOut, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toVehicle(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports ready once a network is loaded and the store answers.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	checks := map[string]string{"store": "ok", "network": "ok"}
	ready := true
	if err := s.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		ready = false
	}
	if snap := s.Network.Snapshot(); snap == nil || snap.SegmentCount() == 0 {
		checks["network"] = "empty"
		ready = false
	}
	if s.Predictions != nil {
		// informational only: an open breaker degrades results, it does not block them
		checks["predictions"] = s.Predictions.BreakerState()
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
}
