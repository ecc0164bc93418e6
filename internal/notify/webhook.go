package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// WebhookBackend POSTs events to an HTTP endpoint, retrying non-2xx
// responses and network errors with a fixed backoff schedule.
type WebhookBackend struct {
	endpoint string
	client   *http.Client
	backoff  []time.Duration
}

func NewWebhookBackend(endpoint string, timeout time.Duration, backoff ...time.Duration) *WebhookBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if backoff == nil {
		backoff = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	}
	return &WebhookBackend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		backoff:  backoff,
	}
}

func (w *WebhookBackend) Name() string {
	return "webhook"
}

func (w *WebhookBackend) Publish(ctx context.Context, payload []byte) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = w.post(ctx, payload); err == nil {
			return nil
		}
		if attempt >= len(w.backoff) {
			return fmt.Errorf("webhook failed after %d attempts: %w", attempt+1, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff[attempt]):
		}
	}
}

func (w *WebhookBackend) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookBackend) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
