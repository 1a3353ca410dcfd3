package api

import (
	"fmt"
	"net/http"
	"time"
)

const streamHeartbeat = 15 * time.Second

// WebhookLogStreamHandler handles GET /v1/webhooks/{id}/logs/stream, a
// server-sent event tail of delivery records as they are written.
func (s *Server) WebhookLogStreamHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	wh, err := s.ownedWebhook(r.Context(), pr, r.PathValue("id"))
	if err != nil {
		s.storeProblem(w, r, "Webhook not found", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topic := webhookTopic(wh.ID)
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"webhookId\":%q,\"ts\":%q}\n\n", wh.ID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Data)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
