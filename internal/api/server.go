// Package api implements the HTTP surface of the formhooks service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"formhooks/internal/auth"
	"formhooks/internal/config"
	"formhooks/internal/metrics"
	"formhooks/internal/model"
	"formhooks/internal/store"
	"formhooks/internal/webhooks"
)

type Server struct {
	Store      store.Store
	Dispatcher *webhooks.Dispatcher
	Auth       *auth.Verifier
	Broker     EventBroker
	Limiter    *IPRateLimiter
	Logger     *slog.Logger
	Config     config.Config
}

// NewServer assembles the HTTP layer. The dispatcher's delivery records are
// forwarded to the broker so log tails see them as they are written.
func NewServer(cfg config.Config, st store.Store, d *webhooks.Dispatcher, broker EventBroker, logger *slog.Logger) *Server {
	if broker == nil {
		broker = NewBroker()
	}
	s := &Server{
		Store:      st,
		Dispatcher: d,
		Auth:       auth.NewVerifier(cfg.Auth),
		Broker:     broker,
		Limiter:    NewIPRateLimiter(cfg.Submit.RPS, cfg.Submit.Burst, cfg.Submit.TrustProxy),
		Logger:     logger.With(slog.String("component", "api")),
		Config:     cfg,
	}
	if d != nil {
		d.OnRecord = s.PublishDeliveryLog
	}
	return s
}

// Routes returns the full handler tree wrapped in access logging and metrics.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Forms and submissions
	mux.HandleFunc("POST /v1/forms", s.CreateFormHandler)
	mux.HandleFunc("GET /v1/forms", s.ListFormsHandler)
	mux.HandleFunc("GET /v1/forms/{id}", s.GetFormHandler)
	mux.Handle("POST /v1/forms/{id}/submissions", s.Limiter.Middleware(http.HandlerFunc(s.CreateSubmissionHandler)))
	mux.HandleFunc("GET /v1/forms/{id}/submissions", s.ListSubmissionsHandler)

	// Webhooks
	mux.HandleFunc("POST /v1/webhooks", s.CreateWebhookHandler)
	mux.HandleFunc("GET /v1/webhooks", s.ListWebhooksHandler)
	mux.HandleFunc("GET /v1/webhooks/{id}", s.GetWebhookHandler)
	mux.HandleFunc("PATCH /v1/webhooks/{id}", s.UpdateWebhookHandler)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", s.DeleteWebhookHandler)
	mux.HandleFunc("POST /v1/webhooks/{id}/test", s.TestWebhookHandler)
	mux.HandleFunc("GET /v1/webhooks/{id}/logs", s.WebhookLogsHandler)
	mux.HandleFunc("GET /v1/webhooks/{id}/logs/stream", s.WebhookLogStreamHandler)
	mux.HandleFunc("GET /v1/ws/deliveries", s.DeliveriesWSHandler)

	// Ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /debug/info", s.DebugJSON)

	return Logging(s.Logger)(instrument(mux))
}

// PublishDeliveryLog fans a stored delivery record out to live subscribers
// of its webhook.
func (s *Server) PublishDeliveryLog(rec model.DeliveryLog) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.Logger.Warn("encoding delivery log for broker", "webhook_id", rec.WebhookID, "error", err)
		return
	}
	s.Broker.Publish(webhookTopic(rec.WebhookID), Event{Type: "delivery", Data: data})
}

func webhookTopic(webhookID string) string { return "webhook:" + webhookID }
