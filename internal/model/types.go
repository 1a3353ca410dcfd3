package model

import (
	"encoding/json"
	"time"
)

// Event names a webhook registration can subscribe to.
const (
	EventFormSubmitted = "form.submitted"
	EventWebhookTest   = "webhook.test"
)

// SubscribableEvents lists the events accepted on webhook registration.
var SubscribableEvents = []string{EventFormSubmitted}

// TimestampLayout is the wire format of event timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Form is the minimal form record submissions attach to.
type Form struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	Title     string          `json:"title"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type FormInput struct {
	Title  string          `json:"title"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Submission is one end-user fill of a form.
type Submission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"formId"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Webhook is a stored registration mapping an owner (and optionally one form)
// to a target URL and the events it receives. A nil FormID means every form
// of the owner.
type Webhook struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	FormID          *string    `json:"formId"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	Active          bool       `json:"active"`
	LastTriggeredAt *time.Time `json:"lastTriggered,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Subscribes reports whether the registration listens for event.
func (w Webhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Matches reports whether the registration should receive event for formID.
func (w Webhook) Matches(formID, event string) bool {
	if !w.Active {
		return false
	}
	if w.FormID != nil && *w.FormID != formID {
		return false
	}
	return w.Subscribes(event)
}

// WebhookCreated is the creation response; the only place the secret is shown.
type WebhookCreated struct {
	Webhook
	Secret string `json:"secret"`
}

type WebhookInput struct {
	URL    string   `json:"url"`
	FormID *string  `json:"formId"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

// WebhookPatch carries optional updates. ClearForm turns a form-scoped
// registration into a global one.
type WebhookPatch struct {
	URL       *string   `json:"url"`
	FormID    *string   `json:"formId"`
	ClearForm bool      `json:"clearForm"`
	Events    *[]string `json:"events"`
	Active    *bool     `json:"active"`
}

// WebhookFilter selects registrations for dispatch.
type WebhookFilter struct {
	OwnerID string
	FormID  string
	Event   string
}

// DeliveryLog is the append-only record of one delivery attempt.
type DeliveryLog struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhookId"`
	Event          string          `json:"event"`
	RequestPayload json.RawMessage `json:"requestPayload"`
	ResponseBody   json.RawMessage `json:"responseBody,omitempty"`
	StatusCode     int             `json:"statusCode"`
	Success        bool            `json:"success"`
	Error          *string         `json:"error"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// SubmissionEvent is the immutable body POSTed to receivers.
type SubmissionEvent struct {
	Event     string              `json:"event"`
	Timestamp string              `json:"timestamp"`
	Data      SubmissionEventData `json:"data"`
}

type SubmissionEventData struct {
	FormID         string         `json:"formId"`
	FormTitle      string         `json:"formTitle"`
	SubmissionID   string         `json:"submissionId"`
	SubmissionData map[string]any `json:"submissionData"`
}
