package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scribesync/hookd/internal/models"
)

// testDeliveryID marks test sends so receivers can tell them from queued
// deliveries; test sends never get a delivery row.
const testDeliveryID = "test"

// WebhookGetter is the single lookup the test sender needs.
type WebhookGetter interface {
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
}

// TestResult is reported straight back to the caller; a failed test is
// never retried.
type TestResult struct {
	Success         bool   `json:"success"`
	StatusCode      int    `json:"status_code,omitempty"`
	ResponseExcerpt string `json:"response_excerpt,omitempty"`
	Error           string `json:"error,omitempty"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
}

// TestSender fires a one-off synthetic event at a single webhook, bypassing
// the delivery queue entirely. Same signing and header contract as real
// deliveries.
type TestSender struct {
	store  WebhookGetter
	sender *Sender
}

func NewTestSender(store WebhookGetter, sender *Sender) *TestSender {
	return &TestSender{store: store, sender: sender}
}

func (t *TestSender) SendTest(ctx context.Context, webhookID string) (*TestResult, error) {
	wh, err := t.store.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, fmt.Errorf("load webhook: %w", err)
	}
	if wh == nil {
		return nil, fmt.Errorf("webhook %s not found", webhookID)
	}

	data, _ := json.Marshal(map[string]string{
		"message":    "This is a test event from ScribeSync",
		"webhook_id": wh.ID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})

	result := t.sender.Send(ctx, SendRequest{
		URL:            wh.URL,
		Secret:         wh.Secret,
		EventType:      models.EventWebhookTest,
		EventData:      data,
		UserID:         wh.UserID,
		DeliveryID:     testDeliveryID,
		TimeoutSeconds: wh.TimeoutSeconds,
		Test:           true,
	})

	out := &TestResult{
		Success:        result.OK,
		ResponseTimeMs: result.LatencyMs,
	}
	if result.Error != "" {
		out.Error = result.Error
		return out, nil
	}
	out.StatusCode = result.StatusCode
	out.ResponseExcerpt = result.Body
	if !result.OK {
		out.Error = fmt.Sprintf("HTTP %d", result.StatusCode)
	}
	return out, nil
}
