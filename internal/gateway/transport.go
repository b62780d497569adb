package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

const webhookTimeout = 15 * time.Second

// WebhookTransport delivers outbound messages by POSTing them to the
// messaging provider's webhook.
type WebhookTransport struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookTransport creates a webhook transport.
func NewWebhookTransport(url string, logger *slog.Logger) *WebhookTransport {
	return &WebhookTransport{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}
}

// Send posts one message. A non-2xx response is an error; the caller
// decides whether to drop the message.
func (t *WebhookTransport) Send(ctx context.Context, phone, text string, audio bool) error {
	body, err := sonic.Marshal(map[string]any{
		"phone": phone,
		"msg":   text,
		"audio": audio,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to messaging webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("messaging webhook returned %s", resp.Status)
	}
	return nil
}

// LogTransport logs deliveries instead of sending them. Used for local
// runs without a messaging provider.
type LogTransport struct {
	Logger *slog.Logger
}

// Send logs the message and succeeds.
func (t *LogTransport) Send(_ context.Context, phone, text string, audio bool) error {
	t.Logger.Info("outbound message (log transport)",
		slog.String("phone", phone),
		slog.Bool("audio", audio),
		slog.Int("length", len(text)))
	return nil
}
