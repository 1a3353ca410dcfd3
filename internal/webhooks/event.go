package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"formhooks/internal/model"
)

// NewSubmissionEvent builds the event sent for a form submission.
func NewSubmissionEvent(now time.Time, form model.Form, submissionID string, data map[string]any) model.SubmissionEvent {
	if data == nil {
		data = map[string]any{}
	}
	return model.SubmissionEvent{
		Event:     model.EventFormSubmitted,
		Timestamp: now.UTC().Format(model.TimestampLayout),
		Data: model.SubmissionEventData{
			FormID:         form.ID,
			FormTitle:      form.Title,
			SubmissionID:   submissionID,
			SubmissionData: data,
		},
	}
}

// NewTestEvent builds the fixed synthetic event used by test deliveries.
func NewTestEvent(now time.Time) model.SubmissionEvent {
	return model.SubmissionEvent{
		Event:     model.EventWebhookTest,
		Timestamp: now.UTC().Format(model.TimestampLayout),
		Data: model.SubmissionEventData{
			FormID:       "test-form-id",
			FormTitle:    "Test Form",
			SubmissionID: "test-submission-id",
			SubmissionData: map[string]any{
				"name":    "John Doe",
				"email":   "john@example.com",
				"message": "This is a test webhook delivery",
			},
		},
	}
}

// Encode serialises the event once; the result is both signed and sent.
func Encode(evt model.SubmissionEvent) ([]byte, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", evt.Event, err)
	}
	return b, nil
}
