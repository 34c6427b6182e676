package api

import (
	"net/http"
	"time"

	"routeopt/internal/buildinfo"
)

// DebugJSON reports build metadata and a secret-free view of the running
// configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, readRoles...); !ok {
		return
	}
	c := s.Cfg
	eff := s.Service.Config()
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               c.Port,
			"authMode":           c.Auth.Mode,
			"allowOrigins":       c.AllowOrigins,
			"rateRps":            c.RateRPS,
			"rateBurst":          c.RateBurst,
			"networkSource":      c.Network.Source,
			"predictionSource":   c.Prediction.Source,
			"webhookUrls":        len(c.Webhook.URLs),
			"webhookMaxAttempts": c.Webhook.MaxAttempts,
			"hasDatabaseUrl":     c.DatabaseURL != "",
			"hasRedisUrl":        c.RedisURL != "",
		},
		"engine": map[string]any{
			"requestTimeoutMs": eff.RequestTimeout.Milliseconds(),
			"maxCandidates":    eff.MaxCandidates,
			"scoringWorkers":   eff.ScoringWorkers,
			"weights":          eff.Weights,
		},
	}
	if snap := s.Network.Snapshot(); snap != nil {
		info["network"] = map[string]any{
			"source":    snap.Source(),
			"locations": len(snap.Locations()),
			"segments":  snap.SegmentCount(),
			"loadedAt":  snap.LoadedAt().UTC().Format(time.RFC3339),
		}
	}
	if s.Predictions != nil {
		info["predictions"] = map[string]any{"breaker": s.Predictions.BreakerState()}
	}
	writeJSON(w, http.StatusOK, info)
}
