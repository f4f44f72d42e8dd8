package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "spool/0.1"

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// PermanentError marks a delivery failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// WebhookSink POSTs events as JSON.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink builds a sink with its own client timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{URL: strings.TrimSpace(url), Client: &http.Client{Timeout: timeout}}
}

// Name identifies the sink in logs.
func (w *WebhookSink) Name() string {
	return "webhook:" + w.URL
}

// Deliver sends the event. 2xx is success; 408, 429 and 5xx are retryable;
// every other status is permanent.
func (w *WebhookSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return Permanent(fmt.Errorf("encode webhook payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Spool-Event", string(event.Type))
	req.Header.Set("X-Spool-Delivery", event.ID)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err = fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return err
	default:
		return Permanent(err)
	}
}
