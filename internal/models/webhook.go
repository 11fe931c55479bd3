package models

import "time"

type Webhook struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	URL                  string     `json:"url"`
	Description          string     `json:"description"`
	Secret               string     `json:"secret,omitempty"`
	Events               []string   `json:"events"`
	IsActive             bool       `json:"is_active"`
	RetryAttempts        int        `json:"retry_attempts"`
	TimeoutSeconds       int        `json:"timeout_seconds"`
	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SubscribedTo reports whether the webhook is subscribed to an event type.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
