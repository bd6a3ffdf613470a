// Package notify delivers strategy log lines and out-of-band messages.
// Delivery is fire-and-forget: failures are logged and swallowed, never
// propagated into the simulation loop.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier receives strategy output.
type Notifier interface {
	// Log writes a console-style line.
	Log(message string)
	// Message delivers to an external notification channel.
	Message(message string)
}

// Console logs both channels through zap.
type Console struct {
	logger *zap.Logger
}

// NewConsole creates a console notifier.
func NewConsole(logger *zap.Logger) *Console {
	return &Console{logger: logger}
}

func (c *Console) Log(message string)     { c.logger.Info(message) }
func (c *Console) Message(message string) { c.logger.Info(message, zap.String("channel", "message")) }

// Webhook posts messages to a chat-style webhook and logs locally. A failed
// post is logged and dropped.
type Webhook struct {
	logger *zap.Logger
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(logger *zap.Logger, url string) *Webhook {
	return &Webhook{
		logger: logger,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Log(message string) { w.logger.Info(message) }

func (w *Webhook) Message(message string) {
	w.logger.Info(message, zap.String("channel", "webhook"))
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		w.logger.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook rejected message", zap.Int("status", resp.StatusCode))
	}
}
