package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"formhooks/internal/metrics"
	"formhooks/internal/model"
	"formhooks/internal/store"
)

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	FindWebhooks(ctx context.Context, f model.WebhookFilter) ([]model.Webhook, error)
	GetWebhook(ctx context.Context, id string) (model.Webhook, error)
	TouchWebhook(ctx context.Context, id string, at time.Time) error
	CreateWebhookLog(ctx context.Context, rec model.DeliveryLog) (model.DeliveryLog, error)
}

// Submitter accepts tasks without blocking; *Executor implements it.
// Submit queues short tasks for the worker pool; Go runs I/O-bound tasks
// on their own goroutine.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) error
	Go(name string, fn func(ctx context.Context) error) error
}

// MaxInFlightPerWebhook caps concurrent attempts to one registration.
const MaxInFlightPerWebhook = 4

// Dispatcher fans submission events out to matching webhook registrations.
// Exported fields may be adjusted before the first Dispatch.
type Dispatcher struct {
	Client          *Client
	Policy          RetryPolicy
	DeliveryTimeout time.Duration
	TestTimeout     time.Duration
	// OnRecord, when set, is called after each delivery log is stored.
	OnRecord func(model.DeliveryLog)
	Now      func() time.Time

	store  Store
	exec   Submitter
	sched  Scheduler
	slots  *slotPool
	logger *slog.Logger
}

func NewDispatcher(s Store, exec Submitter, sched Scheduler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Client:          NewClient(),
		Policy:          DefaultRetryPolicy,
		DeliveryTimeout: DeliveryTimeout,
		TestTimeout:     TestTimeout,
		Now:             time.Now,
		store:           s,
		exec:            exec,
		sched:           sched,
		slots:           newSlotPool(MaxInFlightPerWebhook),
		logger:          logger.With(slog.String("component", "webhook-dispatcher")),
	}
}

// delivery is one registration's pipeline for one event.
type delivery struct {
	webhook   model.Webhook
	event     string
	timestamp string
	body      []byte
	attempt   int
	state     State
}

// Dispatch queues delivery of a form.submitted event and returns at once.
// The caller never observes delivery outcomes.
func (d *Dispatcher) Dispatch(form model.Form, submissionID string, data map[string]any) {
	evt := NewSubmissionEvent(d.Now(), form, submissionID, data)
	err := d.exec.Submit("resolve:"+form.ID, func(ctx context.Context) error {
		return d.fanOut(ctx, form, evt)
	})
	if err != nil {
		d.logger.Warn("webhook dispatch not queued", "form_id", form.ID, "submission_id", submissionID, "error", err)
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, form model.Form, evt model.SubmissionEvent) error {
	hooks, err := d.store.FindWebhooks(ctx, model.WebhookFilter{OwnerID: form.OwnerID, FormID: form.ID, Event: evt.Event})
	if err != nil {
		return fmt.Errorf("resolving webhooks for form %s: %w", form.ID, err)
	}
	if len(hooks) == 0 {
		d.logger.Info("no webhooks to dispatch", "form_id", form.ID, "event", evt.Event)
		return nil
	}
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	for _, w := range hooks {
		d.start(&delivery{webhook: w, event: evt.Event, timestamp: evt.Timestamp, body: body, state: StatePending})
	}
	return nil
}

// start runs one attempt off the worker pool. Attempts to the same
// registration share a small slot budget; other registrations never wait on it.
func (d *Dispatcher) start(p *delivery) {
	err := d.exec.Go("deliver:"+p.webhook.ID, func(ctx context.Context) error {
		res, err := d.attemptInSlot(ctx, p)
		if errors.Is(err, store.ErrNotFound) {
			d.logger.Info("webhook deleted, abandoning delivery", "webhook_id", p.webhook.ID, "event", p.event)
			return nil
		}
		if err != nil {
			return err
		}
		d.advance(p, res)
		return nil
	})
	if err != nil {
		d.logger.Warn("webhook attempt not queued",
			"webhook_id", p.webhook.ID,
			"attempt", p.attempt+1,
			"error", err,
		)
	}
}

// attemptInSlot holds a slot only for the attempt itself, so a retry armed
// afterwards never waits on its own predecessor.
func (d *Dispatcher) attemptInSlot(ctx context.Context, p *delivery) (AttemptResult, error) {
	release, err := d.slots.acquire(ctx, p.webhook.ID)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("waiting for delivery slot: %w", err)
	}
	defer release()
	return d.runAttempt(ctx, p)
}

// runAttempt returns store.ErrNotFound when the registration was deleted
// while the pipeline was in flight.
func (d *Dispatcher) runAttempt(ctx context.Context, p *delivery) (AttemptResult, error) {
	p.state = StateAttempting
	// Bookkeeping outlives executor cancellation so a cut-off attempt is still logged.
	bg := context.WithoutCancel(ctx)
	if err := d.store.TouchWebhook(bg, p.webhook.ID, d.Now()); err != nil {
		d.logger.Warn("updating webhook last triggered", "webhook_id", p.webhook.ID, "error", err)
	}

	header := DeliveryHeaders(p.webhook.ID, p.event, p.timestamp, p.webhook.Secret, p.body)
	res := d.Client.Attempt(ctx, p.webhook.URL, header, p.body, d.DeliveryTimeout)
	if err := d.record(bg, p.webhook.ID, p.event, p.body, res); errors.Is(err, store.ErrNotFound) {
		return res, err
	}
	return res, nil
}

// advance applies the retry policy to the attempt just recorded.
func (d *Dispatcher) advance(p *delivery, res AttemptResult) {
	next, delay := d.Policy.Next(p.attempt, res.Success)
	p.state = next
	switch next {
	case StateSucceeded:
		d.logger.Debug("webhook delivered",
			"webhook_id", p.webhook.ID,
			"event", p.event,
			"attempt", p.attempt+1,
			"status", res.StatusCode,
		)
	case StateScheduled:
		d.logger.Warn("webhook delivery failed, retrying",
			"webhook_id", p.webhook.ID,
			"event", p.event,
			"attempt", p.attempt+1,
			"retry_in", delay,
			"error", res.Error,
		)
		metrics.WebhookRetries.Inc()
		p.attempt++
		if !d.sched.AfterFunc(delay, func() { d.start(p) }) {
			d.logger.Warn("webhook retry dropped, scheduler stopped",
				"webhook_id", p.webhook.ID,
				"event", p.event,
				"attempt", p.attempt+1,
			)
		}
	case StateExhausted:
		metrics.WebhookExhausted.Inc()
		d.logger.Error("webhook delivery exhausted retries",
			"webhook_id", p.webhook.ID,
			"event", p.event,
			"attempts", p.attempt+1,
			"error", res.Error,
		)
	}
}

// record appends the attempt to the delivery log. Write failures are logged
// here; callers only act on store.ErrNotFound.
func (d *Dispatcher) record(ctx context.Context, webhookID, event string, body []byte, res AttemptResult) error {
	status := "failure"
	if res.Success {
		status = "success"
	}
	metrics.WebhookDeliveries.WithLabelValues(event, status).Inc()
	metrics.WebhookLatency.WithLabelValues(event, status).Observe(float64(res.Latency.Milliseconds()))

	rec := model.DeliveryLog{
		WebhookID:      webhookID,
		Event:          event,
		RequestPayload: body,
		ResponseBody:   res.ResponseBody,
		StatusCode:     res.StatusCode,
		Success:        res.Success,
		CreatedAt:      d.Now().UTC(),
	}
	if res.Error != "" {
		e := res.Error
		rec.Error = &e
	}
	saved, err := d.store.CreateWebhookLog(ctx, rec)
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil {
		d.logger.Error("writing webhook log", "webhook_id", webhookID, "event", event, "error", err)
		return err
	}
	if d.OnRecord != nil {
		d.OnRecord(saved)
	}
	return nil
}

// TestResult is what an operator sees after a test delivery.
type TestResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// TestDispatch sends one synthetic webhook.test event to the registration
// and waits for the outcome. It never retries and does not touch
// last-triggered. Only a missing registration is returned as an error.
func (d *Dispatcher) TestDispatch(ctx context.Context, ownerID, webhookID string) (TestResult, error) {
	w, err := d.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return TestResult{}, err
	}
	if w.OwnerID != ownerID {
		return TestResult{}, store.ErrNotFound
	}
	evt := NewTestEvent(d.Now())
	body, err := Encode(evt)
	if err != nil {
		return TestResult{}, err
	}
	header := DeliveryHeaders(w.ID, evt.Event, evt.Timestamp, w.Secret, body)
	res := d.Client.Attempt(ctx, w.URL, header, body, d.TestTimeout)
	_ = d.record(context.WithoutCancel(ctx), w.ID, evt.Event, body, res)

	out := TestResult{Success: res.Success, StatusCode: res.StatusCode}
	if res.Success {
		out.Message = fmt.Sprintf("Webhook test successful (HTTP %d %s)", res.StatusCode, http.StatusText(res.StatusCode))
	} else {
		out.Message = res.Error
	}
	d.logger.Info("webhook test delivered", "webhook_id", w.ID, "success", res.Success, "status", res.StatusCode)
	return out, nil
}
