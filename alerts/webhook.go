// Package alerts pushes critical notifications (portfolio breaches,
// pipeline health) to an external webhook channel. Everything else stays
// in logs and metrics.
package alerts

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rustyeddy/evobot/observ"
)

// Config points at the webhook endpoint. An empty URL disables sending;
// Notify becomes a no-op so callers never need to branch.
type Config struct {
	WebhookURL string        `yaml:"-"` // from environment
	Timeout    time.Duration `yaml:"timeout"`
}

// Webhook posts alerts as JSON embeds, compatible with Discord/Slack
// style incoming webhooks.
type Webhook struct {
	url    string
	client *resty.Client
}

func NewWebhook(cfg Config) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url: cfg.WebhookURL,
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
	}
}

func (w *Webhook) Enabled() bool { return w.url != "" }

// Notify sends one alert. Failures are returned but callers typically
// log-and-continue; alerting must never block trading.
func (w *Webhook) Notify(title, message string) error {
	if !w.Enabled() {
		return nil
	}

	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": message,
				"timestamp":   time.Now().UTC().Format(time.RFC3339),
			},
		},
	}

	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode())
	}

	observ.Log("alert_sent", map[string]any{"title": title})
	return nil
}
