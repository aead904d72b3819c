package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// WebhookRequest is the JSON body posted for every message.
type WebhookRequest struct {
	Target  string       `json:"target"`
	Kind    core.JobKind `json:"kind"`
	Message core.Message `json:"message"`
}

// WebhookResponse is the optional JSON body of a successful reply.
type WebhookResponse struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func WithHeader(key, value string) WebhookOption {
	return func(w *Webhook) {
		w.headers.Set(key, value)
	}
}

// Webhook is a Dispatcher that posts messages to an HTTP endpoint.
//
// A 2xx reply is a successful send. 408, 429 and 5xx replies and network
// errors are transient; every other status is permanent.
type Webhook struct {
	url     string
	client  *http.Client
	headers http.Header
	now     func() time.Time
}

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send implements core.Dispatcher.
func (w *Webhook) Send(ctx context.Context, target string, kind core.JobKind, msg core.Message) (core.Delivery, error) {
	body, err := json.Marshal(WebhookRequest{Target: target, Kind: kind, Message: msg})
	if err != nil {
		return core.Delivery{}, core.Permanent("encode message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return core.Delivery{}, core.Permanent("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header[k] = v
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return core.Delivery{}, core.Transient("post webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if retryableStatus(resp.StatusCode) {
			return core.Delivery{}, core.Transient(detail, nil)
		}
		return core.Delivery{}, core.Permanent(detail, nil)
	}

	var reply WebhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		// An empty or malformed receipt still means the message went out.
		reply = WebhookResponse{}
	}
	if reply.MessageID == "" {
		reply.MessageID = resp.Header.Get("X-Message-Id")
	}
	if reply.SentAt.IsZero() {
		reply.SentAt = w.now()
	}
	return core.Delivery{MessageID: reply.MessageID, SentAt: reply.SentAt}, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

var _ core.Dispatcher = (*Webhook)(nil)
