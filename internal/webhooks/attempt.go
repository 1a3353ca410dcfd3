package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DeliveryTimeout bounds one attempt of a real event delivery.
	DeliveryTimeout = 30 * time.Second
	// TestTimeout bounds the interactive test delivery.
	TestTimeout = 10 * time.Second

	maxResponseBody = 1 << 20
	userAgent       = "formhooks-webhook/1.0"
)

// Delivery header names.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-Id"
	HeaderSignature = "X-Webhook-Signature"
)

// AttemptResult is the outcome of one POST. StatusCode is 0 when no HTTP
// response was received.
type AttemptResult struct {
	StatusCode   int
	Success      bool
	ResponseBody json.RawMessage
	Error        string
	Latency      time.Duration
}

// Client performs single delivery attempts. It never writes delivery logs.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a client that does not follow redirects, so a 3xx is
// reported as a failed attempt. Timeouts come from the attempt context.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}}
}

// DeliveryHeaders returns the webhook headers for body. The signature header
// is omitted when the registration has no secret.
func DeliveryHeaders(webhookID, event, timestamp, secret string, body []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderEvent, event)
	h.Set(HeaderTimestamp, timestamp)
	h.Set(HeaderID, webhookID)
	if secret != "" {
		h.Set(HeaderSignature, SignHMAC(secret, body))
	}
	return h
}

// Attempt POSTs body to url with the given headers, bounded by timeout.
func (c *Client) Attempt(ctx context.Context, url string, header http.Header, body []byte, timeout time.Duration) AttemptResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return AttemptResult{Error: fmt.Sprintf("creating request: %v", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return AttemptResult{Error: err.Error(), Latency: time.Since(start)}
	}
	defer resp.Body.Close() //nolint:errcheck

	// a failed body read only affects what gets logged
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res := AttemptResult{
		StatusCode:   resp.StatusCode,
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		ResponseBody: parseResponseBody(raw),
		Latency:      time.Since(start),
	}
	if !res.Success {
		res.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, statusText(resp))
	}
	return res
}

// parseResponseBody keeps valid JSON as-is and wraps anything else as {"raw": text}.
func parseResponseBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]string{"raw": string(raw)})
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n"))
}

func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
