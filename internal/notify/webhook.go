package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// WebhookSink POSTs the event as JSON, for n8n or any generic receiver.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink. A nil client uses http.DefaultClient.
func NewWebhookSink(url string, client *http.Client) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, client: client}, nil
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(webhookPayload{Event: ev, Source: "eqho-aios"})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

type webhookPayload struct {
	Event
	Source string `json:"source"`
}
