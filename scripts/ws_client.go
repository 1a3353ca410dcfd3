// Package main runs a demo WebSocket client that tails webhook deliveries.
//
// It registers a form and a webhook pointing at a throwaway local receiver,
// connects to /v1/ws/deliveries, submits the form, and prints every
// delivery record that arrives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const owner = "demo"

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body any, out any) {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-Id", owner)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s: %s %s", path, resp.Status, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatal(err)
		}
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Local receiver; every third request fails so retries show up.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	var hits atomic.Int32
	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("receiver <- %s sig=%s", r.Header.Get("X-Webhook-Event"), r.Header.Get("X-Webhook-Signature"))
			if hits.Add(1)%3 == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"received":true}`))
		}))
	}()

	var form struct {
		ID string `json:"id"`
	}
	post(base, "/v1/forms", map[string]any{"title": "Demo form"}, &form)
	var hook struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	post(base, "/v1/webhooks", map[string]any{
		"url":    "http://" + ln.Addr().String() + "/hook",
		"events": []string{"form.submitted"},
		"formId": form.ID,
	}, &hook)
	log.Printf("form=%s webhook=%s secret=%s", form.ID, hook.ID, hook.Secret)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws/deliveries", RawQuery: "webhookId=" + hook.ID}
	hdr := http.Header{}
	hdr.Set("X-Owner-Id", owner)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	time.Sleep(200 * time.Millisecond)
	post(base, "/v1/forms/"+form.ID+"/submissions", map[string]any{"data": map[string]any{"name": "Ada"}}, nil)

	// long enough to see the first retry (1s backoff)
	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}
