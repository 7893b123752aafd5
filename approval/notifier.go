package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier delivers an approval request as a JSON POST to a
// configured URL (an incoming Slack/Teams/PagerDuty webhook, or any
// endpoint accepting a JSON body). No example in the retrieved corpus
// wires a vendor chat SDK against a real call site, so this speaks the
// lowest common denominator every one of those services already accepts.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier posting to url. A nil
// client gets a 10s-timeout default.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

type webhookPayload struct {
	RequestID   string            `json:"request_id"`
	RequestType string            `json:"request_type"`
	Requester   string            `json:"requester"`
	Approver    string            `json:"approver"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Amount      *float64          `json:"amount,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, req Request) error {
	body, err := json.Marshal(webhookPayload{
		RequestID:   req.RequestID,
		RequestType: req.RequestType,
		Requester:   req.Requester,
		Approver:    req.Approver,
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return fmt.Errorf("approval: marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("approval: build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("approval: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("approval: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
