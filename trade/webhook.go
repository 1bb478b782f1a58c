/*
webhook.go - HTTP delivery sink

PURPOSE:
  Forwards purchased items to the chat-side delivery service, which owns
  the actual DM to the buyer. One POST per chunk; a non-2xx response is a
  failed delivery and the coordinator falls back to inline items.
*/
package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WebhookSink delivers item payloads by POSTing JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a sink for the given endpoint. A nil client uses
// http.DefaultClient; the coordinator's delivery timeout bounds each send
// through the request context.
func NewWebhookSink(url string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, client: client}
}

type webhookPayload struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

// Send posts one message chunk for the given identity.
func (s *WebhookSink) Send(ctx context.Context, identity, text string) error {
	body, err := json.Marshal(webhookPayload{Identity: identity, Text: text})
	if err != nil {
		return fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delivery endpoint returned %s", resp.Status)
	}
	return nil
}
