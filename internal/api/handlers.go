package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"formhooks/internal/auth"
	"formhooks/internal/model"
	"formhooks/internal/store"
	"formhooks/internal/webhooks"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

func pageParams(r *http.Request) (cursor string, limit int) {
	cursor = r.URL.Query().Get("cursor")
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	return cursor, limit
}

// ownedForm loads a form and hides it from anyone but its owner.
func (s *Server) ownedForm(ctx context.Context, pr auth.Principal, id string) (model.Form, error) {
	f, err := s.Store.GetForm(ctx, id)
	if err != nil {
		return model.Form{}, err
	}
	if f.OwnerID != pr.Owner {
		return model.Form{}, store.ErrNotFound
	}
	return f, nil
}

func (s *Server) ownedWebhook(ctx context.Context, pr auth.Principal, id string) (model.Webhook, error) {
	wh, err := s.Store.GetWebhook(ctx, id)
	if err != nil {
		return model.Webhook{}, err
	}
	if wh.OwnerID != pr.Owner {
		return model.Webhook{}, store.ErrNotFound
	}
	return wh, nil
}

// storeProblem maps store errors onto problem responses.
func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, title, "not found", r.URL.Path)
		return
	}
	s.Logger.Error(title, "path", r.URL.Path, "error", err)
	writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

// CreateFormHandler handles POST /v1/forms
func (s *Server) CreateFormHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var in model.FormInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Title == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid form", "title is required", r.URL.Path)
		return
	}
	f, err := s.Store.CreateForm(r.Context(), pr.Owner, in)
	if err != nil {
		s.storeProblem(w, r, "Create form failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ListFormsHandler handles GET /v1/forms
func (s *Server) ListFormsHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	cursor, limit := pageParams(r)
	items, next, err := s.Store.ListForms(r.Context(), pr.Owner, cursor, limit)
	if err != nil {
		s.storeProblem(w, r, "List forms failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// GetFormHandler handles GET /v1/forms/{id}
func (s *Server) GetFormHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	f, err := s.ownedForm(r.Context(), pr, r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Form not found", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// CreateSubmissionHandler handles the public POST /v1/forms/{id}/submissions.
// The submission is stored, webhook dispatch is queued, and the response
// never depends on webhook outcomes.
func (s *Server) CreateSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Data == nil {
		writeProblem(w, http.StatusBadRequest, "Invalid submission", "data object is required", r.URL.Path)
		return
	}
	form, err := s.Store.GetForm(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Form not found", err)
		return
	}
	sub, err := s.Store.CreateSubmission(r.Context(), form.ID, body.Data)
	if err != nil {
		s.storeProblem(w, r, "Create submission failed", err)
		return
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Dispatch(form, sub.ID, sub.Data)
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubmissionsHandler handles GET /v1/forms/{id}/submissions
func (s *Server) ListSubmissionsHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	f, err := s.ownedForm(r.Context(), pr, r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Form not found", err)
		return
	}
	cursor, limit := pageParams(r)
	items, next, err := s.Store.ListSubmissions(r.Context(), f.ID, cursor, limit)
	if err != nil {
		s.storeProblem(w, r, "List submissions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// CreateWebhookHandler handles POST /v1/webhooks. The generated secret is
// returned in this response only.
func (s *Server) CreateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var in model.WebhookInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := validateWebhookInput(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid webhook", err.Error(), r.URL.Path)
		return
	}
	if in.FormID != nil {
		if _, err := s.ownedForm(r.Context(), pr, *in.FormID); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid webhook", "formId does not reference one of your forms", r.URL.Path)
			return
		}
	}
	secret, err := webhooks.NewSecret()
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create webhook failed", err.Error(), r.URL.Path)
		return
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	wh, err := s.Store.CreateWebhook(r.Context(), model.Webhook{
		OwnerID: pr.Owner,
		FormID:  in.FormID,
		URL:     in.URL,
		Secret:  secret,
		Events:  in.Events,
		Active:  active,
	})
	if err != nil {
		s.storeProblem(w, r, "Create webhook failed", err)
		return
	}
	s.Logger.Info("webhook registered", "webhook_id", wh.ID, "owner", pr.Owner)
	writeJSON(w, http.StatusCreated, model.WebhookCreated{Webhook: wh, Secret: wh.Secret})
}

// ListWebhooksHandler handles GET /v1/webhooks
func (s *Server) ListWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	items, err := s.Store.ListWebhooks(r.Context(), pr.Owner)
	if err != nil {
		s.storeProblem(w, r, "List webhooks failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetWebhookHandler handles GET /v1/webhooks/{id}
func (s *Server) GetWebhookHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	wh, err := s.ownedWebhook(r.Context(), pr, r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Webhook not found", err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

// UpdateWebhookHandler handles PATCH /v1/webhooks/{id}
func (s *Server) UpdateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var patch model.WebhookPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if err := validateWebhookPatch(&patch); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid webhook", err.Error(), r.URL.Path)
		return
	}
	if patch.FormID != nil {
		if _, err := s.ownedForm(r.Context(), pr, *patch.FormID); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid webhook", "formId does not reference one of your forms", r.URL.Path)
			return
		}
	}
	wh, err := s.Store.UpdateWebhook(r.Context(), pr.Owner, r.PathValue("id"), patch)
	if err != nil {
		s.storeProblem(w, r, "Update webhook failed", err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

// DeleteWebhookHandler handles DELETE /v1/webhooks/{id}
func (s *Server) DeleteWebhookHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.Store.DeleteWebhook(r.Context(), pr.Owner, r.PathValue("id")); err != nil {
		s.storeProblem(w, r, "Delete webhook failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestWebhookHandler handles POST /v1/webhooks/{id}/test. Receiver failures
// are part of the 200 result body; only a missing webhook is an error.
func (s *Server) TestWebhookHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if s.Dispatcher == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Webhook delivery unavailable", "", r.URL.Path)
		return
	}
	res, err := s.Dispatcher.TestDispatch(r.Context(), pr.Owner, r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Webhook not found", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// WebhookLogsHandler handles GET /v1/webhooks/{id}/logs (newest first, at most 50)
func (s *Server) WebhookLogsHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	wh, err := s.ownedWebhook(r.Context(), pr, r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Webhook not found", err)
		return
	}
	_, limit := pageParams(r)
	items, err := s.Store.ListWebhookLogs(r.Context(), wh.ID, limit)
	if err != nil {
		s.storeProblem(w, r, "List webhook logs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// SQL-backed stores must answer a ping
	type pinger interface{ Ping(ctx context.Context) error }
	if p, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
