package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier POSTs events as JSON to an HTTP endpoint with a bounded
// retry loop.
type WebhookNotifier struct {
	url     string
	channel string
	retries int
	headers map[string]string
	client  *http.Client
}

// WebhookConfig configures a webhook notifier.
type WebhookConfig struct {
	URL     string
	Channel string
	Timeout time.Duration
	Retries int
	Headers map[string]string
}

// NewWebhook creates a webhook notifier. A zero timeout defaults to 10s.
func NewWebhook(cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		channel: cfg.Channel,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Notify delivers the event, retrying transport failures up to the
// configured retry count. The final failure is wrapped in a *DeliveryError.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if event.Channel == "" {
		event.Channel = n.channel
	}

	var lastErr error
	attempts := n.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err := n.post(ctx, event)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return &DeliveryError{Channel: event.Channel, Err: lastErr}
}

func (n *WebhookNotifier) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
