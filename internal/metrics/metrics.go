package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)

	// WebhookDeliveries counts delivery attempts by event and outcome
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event and outcome."},
		[]string{"event", "status"},
	)
	// WebhookLatency tracks attempt latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000}},
		[]string{"event", "status"},
	)
	// WebhookRetries counts scheduled retries
	WebhookRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_retries_scheduled_total", Help: "Webhook retries armed after a failed attempt."},
	)
	// WebhookExhausted counts deliveries that hit the retry ceiling
	WebhookExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_deliveries_exhausted_total", Help: "Webhook deliveries that failed every attempt."},
	)
	// WebhookTasks counts executor task outcomes: ok, error, panic, dropped
	WebhookTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_tasks_total", Help: "Webhook executor tasks by outcome."},
		[]string{"outcome"},
	)
	// WebhookQueueDepth reports tasks waiting for a worker
	WebhookQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "webhook_task_queue_depth", Help: "Webhook tasks waiting for a worker."},
	)
	// SubmissionsRejected counts public submissions refused by the rate limiter
	SubmissionsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "form_submissions_rate_limited_total", Help: "Form submissions rejected by the per-IP rate limiter."},
	)
)

// RegisterDefault registers collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(WebhookRetries)
		Registry.MustRegister(WebhookExhausted)
		Registry.MustRegister(WebhookTasks)
		Registry.MustRegister(WebhookQueueDepth)
		Registry.MustRegister(SubmissionsRejected)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
