// Package alerts delivers signal and position events to an external
// webhook. Delivery is best effort and never blocks the trading cycle.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"catalyst-bot/internal/logger"
)

// WebhookAlerter posts events as JSON to a configured webhook URL. An
// empty URL disables it, so wiring stays unconditional at startup.
type WebhookAlerter struct {
	url  string
	http *http.Client
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify sends the event in a background goroutine. The payload is opaque
// to this package; failures are logged and dropped.
func (a *WebhookAlerter) Notify(ctx context.Context, event string, payload any) {
	if a.url == "" {
		return
	}
	body := map[string]any{
		"event":     event,
		"timestamp": time.Now().Format(time.RFC3339),
		"payload":   payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		logger.Warn(ctx, "Alert payload not serializable", "event", event, "error", err)
		return
	}
	go func() {
		req, err := http.NewRequest("POST", a.url, bytes.NewReader(data))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.http.Do(req)
		if err != nil {
			logger.Warn(context.Background(), "Alert delivery failed", "event", event, "error", err)
			return
		}
		resp.Body.Close()
	}()
}

// NopAlerter discards every event.
type NopAlerter struct{}

func (NopAlerter) Notify(ctx context.Context, event string, payload any) {}
