// Package notify delivers fire-and-forget notifications. Delivery
// failures are logged and never surface as assignment or SLA errors.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"fieldline/internal/config"
)

// Event kinds dispatched by the engine.
const (
	KindAssigned       = "complaint.assigned"
	KindReassigned     = "complaint.reassigned"
	KindManualRequired = "complaint.manual_assignment_required"
	KindSLABreached    = "sla.breached"
	KindPenaltyApplied = "penalty.applied"
)

// Notifier is the outbound notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error
}

// LogNotifier writes notifications to the process log. It is the
// default when no webhooks are configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) Notify(_ context.Context, recipientID, kind string, payload map[string]any) error {
	logger := n.Logger
	if logger == nil {
		logger = log.Default()
	}
	data, _ := json.Marshal(payload)
	logger.Printf("notify: recipient=%s kind=%s payload=%s", recipientID, kind, data)
	return nil
}

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier posts notification envelopes to configured endpoints
// whose event filters match the kind.
type WebhookNotifier struct {
	Webhooks []config.WebhookConfig
	Client   *http.Client
}

func NewWebhookNotifier(hooks []config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		Webhooks: hooks,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
}

type envelope struct {
	RecipientID string         `json:"recipient_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	SentAt      string         `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	body, err := json.Marshal(envelope{
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     payload,
		SentAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	var firstErr error
	for _, hook := range n.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if !matches(hook.Events, kind) {
			continue
		}
		if err := n.post(ctx, hook, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *WebhookNotifier) post(ctx context.Context, hook config.WebhookConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if hook.Secret != "" {
		req.Header.Set("X-Fieldline-Secret", hook.Secret)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", hook.URL, resp.StatusCode)
	}
	return nil
}

// matches applies the hook's event filter; a "prefix.*" pattern matches
// every kind under that prefix, an empty filter matches everything.
func matches(filters []string, kind string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f == kind || f == "*" {
			return true
		}
		if strings.HasSuffix(f, ".*") && strings.HasPrefix(kind, strings.TrimSuffix(f, "*")) {
			return true
		}
	}
	return false
}
