package store

import (
	"context"
	"errors"
	"time"

	"formhooks/internal/model"
)

// Store is the persistence interface used by the API server and the webhook
// dispatcher.
type Store interface {
	// Forms
	CreateForm(ctx context.Context, ownerID string, in model.FormInput) (model.Form, error)
	GetForm(ctx context.Context, id string) (model.Form, error)
	ListForms(ctx context.Context, ownerID, cursor string, limit int) ([]model.Form, string, error)

	// Submissions
	CreateSubmission(ctx context.Context, formID string, data map[string]any) (model.Submission, error)
	ListSubmissions(ctx context.Context, formID, cursor string, limit int) ([]model.Submission, string, error)

	// Webhook registrations
	CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error)
	GetWebhook(ctx context.Context, id string) (model.Webhook, error)
	ListWebhooks(ctx context.Context, ownerID string) ([]model.Webhook, error)
	UpdateWebhook(ctx context.Context, ownerID, id string, patch model.WebhookPatch) (model.Webhook, error)
	DeleteWebhook(ctx context.Context, ownerID, id string) error
	FindWebhooks(ctx context.Context, f model.WebhookFilter) ([]model.Webhook, error)
	TouchWebhook(ctx context.Context, id string, at time.Time) error

	// Delivery log
	CreateWebhookLog(ctx context.Context, rec model.DeliveryLog) (model.DeliveryLog, error)
	ListWebhookLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error)
}

var ErrNotFound = errors.New("not found")

// MaxLogPage bounds delivery-log listings.
const MaxLogPage = 50

func clampLogLimit(limit int) int {
	if limit <= 0 || limit > MaxLogPage {
		return MaxLogPage
	}
	return limit
}

func clampPage(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
