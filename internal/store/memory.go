package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"formhooks/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu         sync.Mutex
	forms      map[string]model.Form
	formsByOwn map[string][]string
	subs       map[string][]model.Submission
	hooks      map[string]model.Webhook
	hookOrder  []string
	// webhook id -> attempts, oldest first
	logs map[string][]model.DeliveryLog
}

func NewMemory() *Memory {
	return &Memory{
		forms:      map[string]model.Form{},
		formsByOwn: map[string][]string{},
		subs:       map[string][]model.Submission{},
		hooks:      map[string]model.Webhook{},
		logs:       map[string][]model.DeliveryLog{},
	}
}

func (m *Memory) CreateForm(ctx context.Context, ownerID string, in model.FormInput) (model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := model.Form{ID: uuid.New().String(), OwnerID: ownerID, Title: in.Title, Fields: in.Fields, CreatedAt: time.Now().UTC()}
	m.forms[f.ID] = f
	m.formsByOwn[ownerID] = append(m.formsByOwn[ownerID], f.ID)
	return f, nil
}

func (m *Memory) GetForm(ctx context.Context, id string) (model.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[id]
	if !ok {
		return model.Form{}, ErrNotFound
	}
	return f, nil
}

func (m *Memory) ListForms(ctx context.Context, ownerID, cursor string, limit int) ([]model.Form, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.formsByOwn[ownerID]
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	limit = clampPage(limit)
	out := []model.Form{}
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.forms[ids[i]])
	}
	next := ""
	if len(out) == limit && start+limit < len(ids) {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) CreateSubmission(ctx context.Context, formID string, data map[string]any) (model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[formID]; !ok {
		return model.Submission{}, ErrNotFound
	}
	s := model.Submission{ID: uuid.New().String(), FormID: formID, Data: data, CreatedAt: time.Now().UTC()}
	m.subs[formID] = append(m.subs[formID], s)
	return s, nil
}

func (m *Memory) ListSubmissions(ctx context.Context, formID, cursor string, limit int) ([]model.Submission, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.subs[formID]
	start := 0
	if cursor != "" {
		for i, s := range all {
			if s.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	limit = clampPage(limit)
	out := []model.Submission{}
	for i := start; i < len(all) && len(out) < limit; i++ {
		out = append(out, all[i])
	}
	next := ""
	if len(out) == limit && start+limit < len(all) {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	w.ID = uuid.New().String()
	w.Events = append([]string(nil), w.Events...)
	w.CreatedAt = now
	w.UpdatedAt = now
	m.hooks[w.ID] = w
	m.hookOrder = append(m.hookOrder, w.ID)
	return w, nil
}

func (m *Memory) GetWebhook(ctx context.Context, id string) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return model.Webhook{}, ErrNotFound
	}
	return w, nil
}

func (m *Memory) ListWebhooks(ctx context.Context, ownerID string) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Webhook{}
	for _, id := range m.hookOrder {
		if w, ok := m.hooks[id]; ok && w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *Memory) UpdateWebhook(ctx context.Context, ownerID, id string, patch model.WebhookPatch) (model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok || w.OwnerID != ownerID {
		return model.Webhook{}, ErrNotFound
	}
	applyPatch(&w, patch)
	w.UpdatedAt = time.Now().UTC()
	m.hooks[id] = w
	return w, nil
}

func (m *Memory) DeleteWebhook(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok || w.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.hooks, id)
	for i, hid := range m.hookOrder {
		if hid == id {
			m.hookOrder = append(m.hookOrder[:i], m.hookOrder[i+1:]...)
			break
		}
	}
	delete(m.logs, id)
	return nil
}

func (m *Memory) FindWebhooks(ctx context.Context, f model.WebhookFilter) ([]model.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Webhook{}
	for _, id := range m.hookOrder {
		w := m.hooks[id]
		if f.OwnerID != "" && w.OwnerID != f.OwnerID {
			continue
		}
		if w.Matches(f.FormID, f.Event) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *Memory) TouchWebhook(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.hooks[id]
	if !ok {
		return ErrNotFound
	}
	t := at.UTC()
	w.LastTriggeredAt = &t
	m.hooks[id] = w
	return nil
}

func (m *Memory) CreateWebhookLog(ctx context.Context, rec model.DeliveryLog) (model.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hooks[rec.WebhookID]; !ok {
		return model.DeliveryLog{}, ErrNotFound
	}
	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.logs[rec.WebhookID] = append(m.logs[rec.WebhookID], rec)
	return rec, nil
}

func (m *Memory) ListWebhookLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append([]model.DeliveryLog(nil), m.logs[webhookID]...)
	// stable keeps insertion order for equal timestamps, newest first after reverse
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	limit = clampLogLimit(limit)
	out := make([]model.DeliveryLog, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func applyPatch(w *model.Webhook, p model.WebhookPatch) {
	if p.URL != nil {
		w.URL = *p.URL
	}
	if p.ClearForm {
		w.FormID = nil
	} else if p.FormID != nil {
		f := *p.FormID
		w.FormID = &f
	}
	if p.Events != nil {
		w.Events = append([]string(nil), (*p.Events)...)
	}
	if p.Active != nil {
		w.Active = *p.Active
	}
}
