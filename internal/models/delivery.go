package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliveryCompleted  DeliveryStatus = "completed"
	DeliveryFailed     DeliveryStatus = "failed"
)

type Delivery struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhook_id"`
	UserID         string          `json:"user_id"`
	EventType      string          `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	Status         DeliveryStatus  `json:"status"`
	AttemptNumber  int             `json:"attempt_number"`
	MaxAttempts    int             `json:"max_attempts"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
}

// DeliveryAttempt is one row of per-attempt history for a delivery.
type DeliveryAttempt struct {
	ID            string    `json:"id"`
	DeliveryID    string    `json:"delivery_id"`
	AttemptNumber int       `json:"attempt_number"`
	StatusCode    int       `json:"status_code"`
	ResponseBody  string    `json:"response_body"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Completion reports the outcome of one claimed attempt back to the store.
// A nil NextRetryAt on failure finalizes the delivery as failed.
type Completion struct {
	DeliveryID     string
	Success        bool
	ResponseStatus *int
	ResponseBody   string
	ErrorMessage   string
	NextRetryAt    *time.Time
	LatencyMs      int64
}

// ClaimRecord carries everything the dispatcher needs to attempt one
// claimed delivery. AttemptNumber is the ordinal of the attempt being
// made now (the row's completed-attempt count plus one).
type ClaimRecord struct {
	DeliveryID     string
	WebhookID      string
	UserID         string
	URL            string
	Secret         string
	EventType      string
	EventData      json.RawMessage
	AttemptNumber  int
	MaxAttempts    int
	TimeoutSeconds int
}
