package storage

import (
	"context"
	"encoding/json"

	"github.com/scribesync/hookd/internal/models"
)

// Storage owns every delivery row mutation. The dispatcher never touches
// rows directly; it only sees ClaimDue and CompleteDelivery.
type Storage interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserAPIKey(ctx context.Context, id, newKey string) error

	// Webhooks
	CreateWebhook(ctx context.Context, w *models.Webhook) error
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListWebhooks(ctx context.Context, userID string) ([]models.Webhook, error)
	UpdateWebhook(ctx context.Context, w *models.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	ToggleWebhook(ctx context.Context, id string, active bool) error

	// Deliveries.
	//
	// Enqueue fans an event out to every active webhook of the user that
	// subscribes to eventType, creating one pending delivery per match and
	// freezing the webhook's retry_attempts into max_attempts.
	//
	// ClaimDue atomically selects up to limit eligible rows (pending or
	// failed, due, attempts remaining), marks them processing, and returns
	// them. A row handed to one caller is invisible to every other claim
	// until CompleteDelivery runs.
	//
	// CompleteDelivery increments attempt_number, records the outcome, and
	// transitions the row to completed, back to a claimable failed state
	// (non-nil NextRetryAt), or to terminal failed.
	Enqueue(ctx context.Context, userID, eventType string, data json.RawMessage) (int, error)
	ClaimDue(ctx context.Context, limit int) ([]models.ClaimRecord, error)
	CompleteDelivery(ctx context.Context, c models.Completion) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.Delivery, error)
	GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.DeliveryAttempt, error)

	// Stats
	GetStats(ctx context.Context, userID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalWebhooks   int64   `json:"total_webhooks"`
	ActiveWebhooks  int64   `json:"active_webhooks"`
	TotalDeliveries int64   `json:"total_deliveries"`
	CompletedCount  int64   `json:"completed_count"`
	FailedCount     int64   `json:"failed_count"`
	PendingCount    int64   `json:"pending_count"`
	SuccessRate     float64 `json:"success_rate"`
}
