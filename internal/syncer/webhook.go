package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/swooshie/sheetsync/pkg/config"
)

// Notifier delivers a schema-change alert to an outbound channel. Delivery
// is best-effort; the orchestrator records a failure as a suppression reason
// and never fails the run over it.
type Notifier interface {
	NotifySchemaChange(ctx context.Context, origin string, change *SchemaChange) error
}

// WebhookNotifier POSTs the schema change as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier. Returns nil when no URL is
// configured, which callers treat as "no notification channel".
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	if cfg.URL == "" {
		return nil
	}
	return &WebhookNotifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default().With("component", "schema-webhook"),
	}
}

func (n *WebhookNotifier) NotifySchemaChange(ctx context.Context, origin string, change *SchemaChange) error {
	body, err := json.Marshal(map[string]any{
		"origin": origin,
		"change": change,
	})
	if err != nil {
		return fmt.Errorf("marshaling schema change: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering schema change webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	n.logger.Info("schema change notification delivered",
		"origin", origin,
		"current_version", change.CurrentVersion,
	)
	return nil
}
