package monitor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// LogChannel writes alerts to the structured log. Always succeeds; used
// as the default channel when a subscription names no other.
type LogChannel struct {
	Log *slog.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, event AlertEvent) error {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("risk alert",
		"alert_id", event.ID,
		"subscription_id", event.SubscriptionID,
		"target", event.Target.String(),
		"score", event.Verdict.Score,
		"level", event.Verdict.Level,
		"method", event.Verdict.Method)
	return nil
}

// WebhookChannel POSTs alerts to an external URL, signing the payload
// with HMAC-SHA256 when a secret is configured.
type WebhookChannel struct {
	URL    string
	Secret string

	client *http.Client
}

// NewWebhookChannel creates a webhook channel for url.
func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		URL:    url,
		Secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, event AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", "risk.alert")
	req.Header.Set("X-Sentinel-Timestamp", fmt.Sprintf("%d", event.FiredAt.Unix()))
	if c.Secret != "" {
		req.Header.Set("X-Sentinel-Signature", sign(payload, c.Secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
