package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scribesync/hookd/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// Single writer: together with the claim transaction this is what makes
	// ClaimDue exclusive across overlapping dispatcher runs.
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			retry_attempts INTEGER NOT NULL DEFAULT 3,
			timeout_seconds INTEGER NOT NULL DEFAULT 10,
			total_deliveries INTEGER NOT NULL DEFAULT 0,
			successful_deliveries INTEGER NOT NULL DEFAULT 0,
			failed_deliveries INTEGER NOT NULL DEFAULT 0,
			last_triggered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_number INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			response_status INTEGER,
			response_body TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			next_retry_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			delivered_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			delivery_id TEXT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
			attempt_number INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_api_key ON users(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_webhooks_user ON webhooks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON deliveries(webhook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_user ON deliveries(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(status, next_retry_at) WHERE status IN ('pending', 'failed')`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_delivery ON delivery_attempts(delivery_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *SQLiteStorage) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.APIKey, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.APIKey, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStorage) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM users WHERE api_key = ?`, apiKey,
	).Scan(&u.ID, &u.Name, &u.APIKey, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, api_key, created_at, updated_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.APIKey, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStorage) UpdateUserAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

// --- Webhooks ---

const webhookColumns = `id, user_id, url, description, secret, events, is_active, retry_attempts, timeout_seconds,
	total_deliveries, successful_deliveries, failed_deliveries, last_triggered_at, created_at, updated_at`

func (s *SQLiteStorage) CreateWebhook(ctx context.Context, w *models.Webhook) error {
	events, _ := json.Marshal(w.Events)
	active := 0
	if w.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, user_id, url, description, secret, events, is_active, retry_attempts, timeout_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.URL, w.Description, w.Secret, string(events), active, w.RetryAttempts, w.TimeoutSeconds, w.CreatedAt, w.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanWebhook(row interface{ Scan(...interface{}) error }) (*models.Webhook, error) {
	var w models.Webhook
	var events string
	var active int
	err := row.Scan(&w.ID, &w.UserID, &w.URL, &w.Description, &w.Secret, &events, &active,
		&w.RetryAttempts, &w.TimeoutSeconds, &w.TotalDeliveries, &w.SuccessfulDeliveries,
		&w.FailedDeliveries, &w.LastTriggeredAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(events), &w.Events)
	w.IsActive = active == 1
	return &w, nil
}

func (s *SQLiteStorage) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := s.scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *SQLiteStorage) ListWebhooks(ctx context.Context, userID string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		w, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}

func (s *SQLiteStorage) UpdateWebhook(ctx context.Context, w *models.Webhook) error {
	events, _ := json.Marshal(w.Events)
	active := 0
	if w.IsActive {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET url = ?, description = ?, events = ?, is_active = ?, retry_attempts = ?, timeout_seconds = ?, updated_at = ?
		 WHERE id = ?`,
		w.URL, w.Description, string(events), active, w.RetryAttempts, w.TimeoutSeconds, time.Now().UTC(), w.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteWebhook(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ToggleWebhook(ctx context.Context, id string, active bool) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET is_active = ?, updated_at = ? WHERE id = ?`, a, time.Now().UTC(), id)
	return err
}

// --- Deliveries ---

func (s *SQLiteStorage) Enqueue(ctx context.Context, userID, eventType string, data json.RawMessage) (int, error) {
	webhooks, err := s.ListWebhooks(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	created := 0
	for _, w := range webhooks {
		if !w.IsActive || !w.SubscribedTo(eventType) {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO deliveries (id, webhook_id, user_id, event_type, event_data, status, attempt_number, max_attempts, created_at)
			 VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
			models.NewID("dlv"), w.ID, userID, eventType, string(data), w.RetryAttempts, now,
		)
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// ClaimDue selects eligible rows and flips them to processing in a single
// transaction. Rows in processing are invisible to further claims until
// completed, which is the whole concurrency story: overlapping dispatcher
// runs cannot double-attempt a delivery.
func (s *SQLiteStorage) ClaimDue(ctx context.Context, limit int) ([]models.ClaimRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT d.id, d.webhook_id, d.user_id, d.event_type, d.event_data, d.attempt_number, d.max_attempts,
		        w.url, w.secret, w.timeout_seconds
		 FROM deliveries d
		 JOIN webhooks w ON w.id = d.webhook_id
		 WHERE d.status IN ('pending', 'failed')
		   AND (d.next_retry_at IS NULL OR d.next_retry_at <= ?)
		   AND d.attempt_number < d.max_attempts
		 ORDER BY d.created_at ASC
		 LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}

	var records []models.ClaimRecord
	for rows.Next() {
		var rec models.ClaimRecord
		var data string
		var attempts int
		if err := rows.Scan(&rec.DeliveryID, &rec.WebhookID, &rec.UserID, &rec.EventType, &data,
			&attempts, &rec.MaxAttempts, &rec.URL, &rec.Secret, &rec.TimeoutSeconds); err != nil {
			rows.Close()
			return nil, err
		}
		rec.EventData = json.RawMessage(data)
		// The attempt about to be made.
		rec.AttemptNumber = attempts + 1
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			`UPDATE deliveries SET status = 'processing', next_retry_at = NULL WHERE id = ?`,
			rec.DeliveryID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *SQLiteStorage) CompleteDelivery(ctx context.Context, c models.Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var webhookID string
	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT webhook_id, attempt_number FROM deliveries WHERE id = ?`, c.DeliveryID,
	).Scan(&webhookID, &attempts)
	if err == sql.ErrNoRows {
		return fmt.Errorf("delivery %s not found", c.DeliveryID)
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	newAttempt := attempts + 1

	status := models.DeliveryFailed
	var deliveredAt *time.Time
	if c.Success {
		status = models.DeliveryCompleted
		deliveredAt = &now
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE deliveries
		 SET status = ?, attempt_number = ?, response_status = ?, response_body = ?, error_message = ?,
		     next_retry_at = ?, delivered_at = ?
		 WHERE id = ?`,
		status, newAttempt, c.ResponseStatus, c.ResponseBody, c.ErrorMessage,
		c.NextRetryAt, deliveredAt, c.DeliveryID,
	); err != nil {
		return err
	}

	statusCode := 0
	if c.ResponseStatus != nil {
		statusCode = *c.ResponseStatus
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_attempts (id, delivery_id, attempt_number, status_code, response_body, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		models.NewID("att"), c.DeliveryID, newAttempt, statusCode, c.ResponseBody, c.LatencyMs, c.ErrorMessage, now,
	); err != nil {
		return err
	}

	// Display counters only; dispatch eligibility never reads these.
	successInc, failInc := 0, 0
	if c.Success {
		successInc = 1
	} else if c.NextRetryAt == nil {
		failInc = 1
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE webhooks
		 SET total_deliveries = total_deliveries + 1,
		     successful_deliveries = successful_deliveries + ?,
		     failed_deliveries = failed_deliveries + ?,
		     last_triggered_at = ?
		 WHERE id = ?`,
		successInc, failInc, now, webhookID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

const deliveryColumns = `id, webhook_id, user_id, event_type, event_data, status, attempt_number, max_attempts,
	response_status, response_body, error_message, next_retry_at, created_at, delivered_at`

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var data string
	err := row.Scan(&d.ID, &d.WebhookID, &d.UserID, &d.EventType, &data, &d.Status,
		&d.AttemptNumber, &d.MaxAttempts, &d.ResponseStatus, &d.ResponseBody,
		&d.ErrorMessage, &d.NextRetryAt, &d.CreatedAt, &d.DeliveredAt)
	if err != nil {
		return nil, err
	}
	d.EventData = json.RawMessage(data)
	return &d, nil
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStorage) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		webhookID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

func (s *SQLiteStorage) GetAttemptsByDelivery(ctx context.Context, deliveryID string) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, delivery_id, attempt_number, status_code, response_body, latency_ms, error, created_at
		 FROM delivery_attempts WHERE delivery_id = ? ORDER BY attempt_number`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.DeliveryID, &a.AttemptNumber, &a.StatusCode, &a.ResponseBody, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, userID string) (*Stats, error) {
	stats := &Stats{}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhooks WHERE user_id = ?`, userID).Scan(&stats.TotalWebhooks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhooks WHERE user_id = ? AND is_active = 1`, userID).Scan(&stats.ActiveWebhooks)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE user_id = ?`, userID).Scan(&stats.TotalDeliveries)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE user_id = ? AND status = 'completed'`, userID).Scan(&stats.CompletedCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE user_id = ? AND status = 'failed' AND next_retry_at IS NULL AND attempt_number >= max_attempts`, userID).Scan(&stats.FailedCount)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE user_id = ? AND (status IN ('pending', 'processing') OR (status = 'failed' AND next_retry_at IS NOT NULL))`, userID).Scan(&stats.PendingCount)

	if stats.TotalDeliveries > 0 {
		stats.SuccessRate = float64(stats.CompletedCount) / float64(stats.TotalDeliveries) * 100
	}

	return stats, nil
}
