package api

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"formhooks/internal/model"
)

func validateWebhookURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url must be absolute")
	}
	return nil
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range events {
		if !slices.Contains(model.SubscribableEvents, e) {
			return fmt.Errorf("unknown event %q (allowed: %s)", e, strings.Join(model.SubscribableEvents, ","))
		}
	}
	return nil
}

func validateWebhookInput(in *model.WebhookInput) error {
	if err := validateWebhookURL(in.URL); err != nil {
		return err
	}
	if in.FormID != nil && *in.FormID == "" {
		in.FormID = nil
	}
	return validateEvents(in.Events)
}

func validateWebhookPatch(p *model.WebhookPatch) error {
	if p.URL != nil {
		if err := validateWebhookURL(*p.URL); err != nil {
			return err
		}
	}
	if p.Events != nil {
		if err := validateEvents(*p.Events); err != nil {
			return err
		}
	}
	if p.FormID != nil && *p.FormID == "" {
		p.FormID = nil
		p.ClearForm = true
	}
	if p.ClearForm && p.FormID != nil {
		return fmt.Errorf("formId and clearForm are mutually exclusive")
	}
	return nil
}
