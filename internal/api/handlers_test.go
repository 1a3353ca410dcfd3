package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"formhooks/internal/config"
	"formhooks/internal/logging"
	"formhooks/internal/metrics"
	"formhooks/internal/model"
	"formhooks/internal/store"
	"formhooks/internal/webhooks"
)

type inlineSubmitter struct{}

func (inlineSubmitter) Submit(name string, fn func(ctx context.Context) error) error {
	_ = fn(context.Background())
	return nil
}

func (s inlineSubmitter) Go(name string, fn func(ctx context.Context) error) error {
	return s.Submit(name, fn)
}

// dropScheduler never fires, so each delivery makes a single attempt.
type dropScheduler struct{}

func (dropScheduler) AfterFunc(time.Duration, func()) bool { return true }

type testEnv struct {
	srv *Server
	mem *store.Memory
	h   http.Handler
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Submit.Burst = 100
	if mutate != nil {
		mutate(&cfg)
	}
	mem := store.NewMemory()
	d := webhooks.NewDispatcher(mem, inlineSubmitter{}, dropScheduler{}, logging.Discard())
	d.DeliveryTimeout = time.Second
	d.TestTimeout = time.Second
	s := NewServer(cfg, mem, d, NewBroker(), logging.Discard())
	t.Cleanup(s.Limiter.Stop)
	return &testEnv{srv: s, mem: mem, h: s.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

func (e *testEnv) createForm(t *testing.T, owner, title string) model.Form {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/forms", owner, map[string]any{"title": title})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create form: %d %s", rr.Code, rr.Body.String())
	}
	return decode[model.Form](t, rr)
}

func (e *testEnv) createWebhook(t *testing.T, owner string, in map[string]any) model.WebhookCreated {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/webhooks", owner, in)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create webhook: %d %s", rr.Code, rr.Body.String())
	}
	return decode[model.WebhookCreated](t, rr)
}

func receiverServer(t *testing.T, status int) (*httptest.Server, chan []byte) {
	t.Helper()
	got := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- b
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestHealthReady(t *testing.T) {
	e := newTestEnv(t, nil)
	if rr := e.do(t, http.MethodGet, "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/readyz", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestMetricsAndDebug(t *testing.T) {
	metrics.RegisterDefault()
	e := newTestEnv(t, nil)
	rr := e.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/debug/info", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("debug: %d", rr.Code)
	}
	info := decode[map[string]any](t, rr)
	if _, ok := info["build"]; !ok {
		t.Fatalf("debug body %v", info)
	}
}

func TestOwnerRequired(t *testing.T) {
	e := newTestEnv(t, nil)
	for _, p := range []string{"/v1/forms", "/v1/webhooks"} {
		rr := e.do(t, http.MethodGet, p, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: got %d", p, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("%s: content type %q", p, ct)
		}
	}
}

func TestBearerTokenRequiredOutsideDevMode(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Auth.Mode = "hmac"
		c.Auth.HMACSecret = "k"
	})
	if rr := e.do(t, http.MethodGet, "/v1/forms", "o1", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("header fallback must be disabled, got %d", rr.Code)
	}
}

func TestDevBearerToken(t *testing.T) {
	e := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/forms", nil)
	req.Header.Set("Authorization", "Bearer o1:admin")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
}

func TestFormsCreateListGet(t *testing.T) {
	e := newTestEnv(t, nil)
	f := e.createForm(t, "o1", "Contact")
	if f.OwnerID != "o1" || f.ID == "" {
		t.Fatalf("form %+v", f)
	}
	if rr := e.do(t, http.MethodPost, "/v1/forms", "o1", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing title: %d", rr.Code)
	}
	rr := e.do(t, http.MethodGet, "/v1/forms", "o1", nil)
	list := decode[struct {
		Items []model.Form `json:"items"`
	}](t, rr)
	if len(list.Items) != 1 {
		t.Fatalf("list %+v", list)
	}
	if rr := e.do(t, http.MethodGet, "/v1/forms/"+f.ID, "o2", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign form: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/forms/"+f.ID, "o1", nil); rr.Code != http.StatusOK {
		t.Fatalf("own form: %d", rr.Code)
	}
}

func TestWebhookLifecycle(t *testing.T) {
	e := newTestEnv(t, nil)
	f := e.createForm(t, "o1", "Contact")
	created := e.createWebhook(t, "o1", map[string]any{
		"url":    "https://example.test/hook",
		"events": []string{"form.submitted"},
		"formId": f.ID,
	})
	if len(created.Secret) != 64 || !created.Active || created.FormID == nil || *created.FormID != f.ID {
		t.Fatalf("created %+v", created)
	}

	rr := e.do(t, http.MethodGet, "/v1/webhooks", "o1", nil)
	if strings.Contains(rr.Body.String(), created.Secret) || strings.Contains(rr.Body.String(), `"secret"`) {
		t.Fatal("listing must not reveal the secret")
	}
	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+created.ID, "o1", nil)
	if rr.Code != http.StatusOK || strings.Contains(rr.Body.String(), created.Secret) {
		t.Fatalf("get: %d %s", rr.Code, rr.Body.String())
	}
	if rr := e.do(t, http.MethodGet, "/v1/webhooks/"+created.ID, "o2", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign get: %d", rr.Code)
	}

	rr = e.do(t, http.MethodPatch, "/v1/webhooks/"+created.ID, "o1", map[string]any{"active": false, "clearForm": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rr.Code, rr.Body.String())
	}
	patched := decode[model.Webhook](t, rr)
	if patched.Active || patched.FormID != nil {
		t.Fatalf("patched %+v", patched)
	}
	if rr := e.do(t, http.MethodPatch, "/v1/webhooks/"+created.ID, "o1", map[string]any{"url": "nope"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad patch: %d", rr.Code)
	}

	if rr := e.do(t, http.MethodDelete, "/v1/webhooks/"+created.ID, "o2", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodDelete, "/v1/webhooks/"+created.ID, "o1", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr := e.do(t, http.MethodGet, "/v1/webhooks/"+created.ID, "o1", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("after delete: %d", rr.Code)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	foreign := e.createForm(t, "o2", "Theirs")
	cases := []map[string]any{
		{"url": "not-a-url", "events": []string{"form.submitted"}},
		{"url": "https://example.test", "events": []string{}},
		{"url": "https://example.test", "events": []string{"form.submitted"}, "formId": foreign.ID},
	}
	for _, in := range cases {
		if rr := e.do(t, http.MethodPost, "/v1/webhooks", "o1", in); rr.Code != http.StatusBadRequest {
			t.Errorf("%v: got %d", in, rr.Code)
		}
	}
}

func TestSubmissionDispatchesWebhook(t *testing.T) {
	e := newTestEnv(t, nil)
	rcv, got := receiverServer(t, http.StatusOK)
	f := e.createForm(t, "o1", "Contact")
	wh := e.createWebhook(t, "o1", map[string]any{"url": rcv.URL, "events": []string{"form.submitted"}})

	rr := e.do(t, http.MethodPost, "/v1/forms/"+f.ID+"/submissions", "", map[string]any{"data": map[string]any{"name": "Ada"}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	sub := decode[model.Submission](t, rr)

	select {
	case body := <-got:
		var evt model.SubmissionEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			t.Fatal(err)
		}
		if evt.Data.FormID != f.ID || evt.Data.SubmissionID != sub.ID || evt.Data.FormTitle != "Contact" {
			t.Fatalf("event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not called")
	}

	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID+"/logs", "o1", nil)
	logs := decode[struct {
		Items []model.DeliveryLog `json:"items"`
	}](t, rr)
	if len(logs.Items) != 1 || !logs.Items[0].Success {
		t.Fatalf("logs %+v", logs)
	}

	rr = e.do(t, http.MethodGet, "/v1/forms/"+f.ID+"/submissions", "o1", nil)
	subs := decode[struct {
		Items []model.Submission `json:"items"`
	}](t, rr)
	if len(subs.Items) != 1 || subs.Items[0].Data["name"] != "Ada" {
		t.Fatalf("submissions %+v", subs)
	}
}

func TestSubmissionSucceedsWhenReceiverFails(t *testing.T) {
	e := newTestEnv(t, nil)
	rcv, _ := receiverServer(t, http.StatusInternalServerError)
	f := e.createForm(t, "o1", "Contact")
	wh := e.createWebhook(t, "o1", map[string]any{"url": rcv.URL, "events": []string{"form.submitted"}})

	rr := e.do(t, http.MethodPost, "/v1/forms/"+f.ID+"/submissions", "", map[string]any{"data": map[string]any{"x": 1}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit: %d", rr.Code)
	}
	logs, _ := e.mem.ListWebhookLogs(context.Background(), wh.ID, 0)
	if len(logs) != 1 || logs[0].Success || logs[0].StatusCode != 500 {
		t.Fatalf("logs %+v", logs)
	}
}

func TestSubmissionErrors(t *testing.T) {
	e := newTestEnv(t, nil)
	if rr := e.do(t, http.MethodPost, "/v1/forms/missing/submissions", "", map[string]any{"data": map[string]any{}}); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown form: %d", rr.Code)
	}
	f := e.createForm(t, "o1", "Contact")
	if rr := e.do(t, http.MethodPost, "/v1/forms/"+f.ID+"/submissions", "", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing data: %d", rr.Code)
	}
}

func TestSubmissionRateLimited(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Submit.RPS = 0.01
		c.Submit.Burst = 2
	})
	f := e.createForm(t, "o1", "Contact")
	codes := []int{}
	for i := 0; i < 3; i++ {
		rr := e.do(t, http.MethodPost, "/v1/forms/"+f.ID+"/submissions", "", map[string]any{"data": map[string]any{"i": i}})
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes %v", codes)
	}
}

func TestTestWebhookEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	rcv, got := receiverServer(t, http.StatusOK)
	wh := e.createWebhook(t, "o1", map[string]any{"url": rcv.URL, "events": []string{"form.submitted"}})

	rr := e.do(t, http.MethodPost, "/v1/webhooks/"+wh.ID+"/test", "o1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("test: %d %s", rr.Code, rr.Body.String())
	}
	res := decode[webhooks.TestResult](t, rr)
	if !res.Success || res.StatusCode != 200 {
		t.Fatalf("result %+v", res)
	}
	body := <-got
	if !strings.Contains(string(body), `"event":"webhook.test"`) {
		t.Fatalf("body %s", body)
	}
	stored, _ := e.mem.GetWebhook(context.Background(), wh.ID)
	if stored.LastTriggeredAt != nil {
		t.Fatal("test delivery must not update last triggered")
	}
	if rr := e.do(t, http.MethodPost, "/v1/webhooks/"+wh.ID+"/test", "o2", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign test: %d", rr.Code)
	}
}

func TestWebhookLogsNewestFirstAndCapped(t *testing.T) {
	e := newTestEnv(t, nil)
	wh := e.createWebhook(t, "o1", map[string]any{"url": "https://example.test", "events": []string{"form.submitted"}})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		_, err := e.mem.CreateWebhookLog(context.Background(), model.DeliveryLog{
			WebhookID:      wh.ID,
			Event:          model.EventFormSubmitted,
			RequestPayload: json.RawMessage(`{}`),
			StatusCode:     200 + i,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	rr := e.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID+"/logs", "o1", nil)
	logs := decode[struct {
		Items []model.DeliveryLog `json:"items"`
	}](t, rr)
	if len(logs.Items) != 50 {
		t.Fatalf("want 50 logs, got %d", len(logs.Items))
	}
	if logs.Items[0].StatusCode != 259 || logs.Items[49].StatusCode != 210 {
		t.Fatalf("order: first=%d last=%d", logs.Items[0].StatusCode, logs.Items[49].StatusCode)
	}
	rr = e.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID+"/logs?limit=5", "o1", nil)
	logs = decode[struct {
		Items []model.DeliveryLog `json:"items"`
	}](t, rr)
	if len(logs.Items) != 5 {
		t.Fatalf("limit=5 returned %d", len(logs.Items))
	}
	if rr := e.do(t, http.MethodGet, "/v1/webhooks/"+wh.ID+"/logs", "o2", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign logs: %d", rr.Code)
	}
}

func TestWebhookLogStream(t *testing.T) {
	e := newTestEnv(t, nil)
	wh := e.createWebhook(t, "o1", map[string]any{"url": "https://example.test", "events": []string{"form.submitted"}})
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/webhooks/"+wh.ID+"/logs/stream", nil)
	req.Header.Set("X-Owner-Id", "o1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type %q", resp.Header.Get("Content-Type"))
	}
	rd := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				t.Fatalf("reading stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}
	if name, _ := readEvent(); name != "heartbeat" {
		t.Fatalf("first event %q", name)
	}
	e.srv.PublishDeliveryLog(model.DeliveryLog{ID: "l1", WebhookID: wh.ID, Event: model.EventFormSubmitted, StatusCode: 200, Success: true})
	name, data := readEvent()
	if name != "delivery" {
		t.Fatalf("event %q", name)
	}
	var rec model.DeliveryLog
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != "l1" || !rec.Success {
		t.Fatalf("record %+v", rec)
	}
}

func TestDeliveriesWebSocket(t *testing.T) {
	e := newTestEnv(t, nil)
	wh := e.createWebhook(t, "o1", map[string]any{"url": "https://example.test", "events": []string{"form.submitted"}})
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws/deliveries?webhookId=" + wh.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Owner-Id": []string{"o1"}})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "connection_ack" {
		t.Fatalf("ack: %+v %v", msg, err)
	}
	e.srv.PublishDeliveryLog(model.DeliveryLog{ID: "l2", WebhookID: wh.ID, StatusCode: 500})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	var rec model.DeliveryLog
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "delivery" || rec.ID != "l2" || rec.StatusCode != 500 {
		t.Fatalf("frame %+v record %+v", msg, rec)
	}

	if _, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-Owner-Id": []string{"o2"}}); err == nil {
		t.Fatal("foreign owner must not subscribe")
	}
}
