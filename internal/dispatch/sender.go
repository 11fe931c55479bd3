package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scribesync/hookd/internal/signing"
)

const (
	userAgent     = "ScribeSync/1.0 Webhook-Dispatcher"
	userAgentTest = "ScribeSync/1.0 Webhook-Dispatcher-Test"

	// maxBodyExcerpt bounds how much of the endpoint's response we keep
	// for diagnostics.
	maxBodyExcerpt = 500
)

// Envelope is the JSON body POSTed to webhook endpoints. The signature
// covers exactly these serialized bytes plus the timestamp header value.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	UserID    string          `json:"user_id,omitempty"`
}

// SendRequest describes one delivery attempt.
type SendRequest struct {
	URL            string
	Secret         string
	EventType      string
	EventData      json.RawMessage
	UserID         string
	DeliveryID     string
	TimeoutSeconds int
	Test           bool
}

// SendResult is the classified outcome of one attempt. Exactly one of the
// two shapes is populated: an HTTP outcome (StatusCode set, OK per 2xx) or
// a transport failure (Error set, StatusCode zero).
type SendResult struct {
	OK         bool
	StatusCode int
	Body       string
	Error      string
	LatencyMs  int64
}

// Sender performs single, bounded-time webhook POSTs. Retry policy lives in
// the dispatcher, not here.
type Sender struct {
	client *http.Client
}

func NewSender() *Sender {
	// Per-attempt deadlines come from each webhook's timeout_seconds via
	// context, so the client itself carries none.
	return &Sender{client: &http.Client{}}
}

// Send signs and POSTs one event to a webhook endpoint.
func (s *Sender) Send(ctx context.Context, req SendRequest) *SendResult {
	start := time.Now()

	now := start.UTC()
	envelope := Envelope{
		Event:     req.EventType,
		Timestamp: now.Format(time.RFC3339),
		Data:      req.EventData,
		UserID:    req.UserID,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	ts := now.Unix()
	signature := signing.Sign(req.Secret, body, ts)

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("build request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	ua := userAgent
	if req.Test {
		ua = userAgentTest
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("X-SS-Event", req.EventType)
	httpReq.Header.Set("X-SS-Signature", signature)
	httpReq.Header.Set("X-SS-Timestamp", fmt.Sprintf("%d", ts))
	httpReq.Header.Set("X-SS-Delivery-Id", req.DeliveryID)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		msg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			msg = "timeout"
		}
		return &SendResult{
			Error:     msg,
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))

	return &SendResult{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       string(excerpt),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}
