package api

import (
	"net/http"
	"time"

	"formhooks/internal/buildinfo"
)

// DebugJSON reports build metadata and the non-secret parts of the running configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":             cfg.Port,
			"authMode":         cfg.Auth.Mode,
			"logLevel":         cfg.Log.Level,
			"webhookWorkers":   cfg.Webhooks.Workers,
			"webhookQueueSize": cfg.Webhooks.QueueSize,
			"submitRateRps":    cfg.Submit.RPS,
			"submitRateBurst":  cfg.Submit.Burst,
			"trustProxy":       cfg.Submit.TrustProxy,
			"hasDatabaseUrl":   cfg.Database.URL != "",
			"hasSqlitePath":    cfg.Database.SQLitePath != "",
			"hasRedisUrl":      cfg.RedisURL != "",
		},
	})
}
