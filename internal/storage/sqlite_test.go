package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribesync/hookd/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "hookd_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *SQLiteStorage) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:        models.NewID("usr"),
		Name:      "tester",
		APIKey:    models.NewAPIKey(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func createTestWebhook(t *testing.T, store *SQLiteStorage, userID string, events []string, active bool) *models.Webhook {
	t.Helper()
	now := time.Now().UTC()
	w := &models.Webhook{
		ID:             models.NewID("wh"),
		UserID:         userID,
		URL:            "https://example.com/hooks",
		Secret:         models.NewSecret(),
		Events:         events,
		IsActive:       active,
		RetryAttempts:  3,
		TimeoutSeconds: 10,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.CreateWebhook(context.Background(), w); err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	return w
}

func TestEnqueueFanOut(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store)

	subscribed := createTestWebhook(t, store, user.ID, []string{models.EventNoteCreated}, true)
	createTestWebhook(t, store, user.ID, []string{models.EventNoteCreated}, false)  // inactive
	createTestWebhook(t, store, user.ID, []string{models.EventNoteDeleted}, true)   // other event

	created, err := store.Enqueue(ctx, user.ID, models.EventNoteCreated, json.RawMessage(`{"note_id":"note_1"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 delivery, got %d", created)
	}

	deliveries, err := store.ListDeliveries(ctx, subscribed.ID, 10, 0)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery row, got %d", len(deliveries))
	}
	d := deliveries[0]
	if d.Status != models.DeliveryPending {
		t.Fatalf("status = %s", d.Status)
	}
	if d.AttemptNumber != 0 {
		t.Fatalf("attempt_number = %d, want 0", d.AttemptNumber)
	}
	if d.MaxAttempts != subscribed.RetryAttempts {
		t.Fatalf("max_attempts = %d, want %d (frozen from webhook)", d.MaxAttempts, subscribed.RetryAttempts)
	}
	if d.NextRetryAt != nil {
		t.Fatalf("new delivery should be due immediately, next_retry_at = %v", d.NextRetryAt)
	}
}

func TestClaimDueExclusivity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store)
	wh := createTestWebhook(t, store, user.ID, []string{models.EventNoteCreated}, true)

	if _, err := store.Enqueue(ctx, user.ID, models.EventNoteCreated, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	records, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 claim record, got %d", len(records))
	}
	rec := records[0]
	if rec.WebhookID != wh.ID || rec.URL != wh.URL || rec.Secret != wh.Secret {
		t.Fatalf("claim record missing webhook fields: %+v", rec)
	}
	if rec.AttemptNumber != 1 {
		t.Fatalf("AttemptNumber = %d, want 1 (first attempt)", rec.AttemptNumber)
	}
	if rec.TimeoutSeconds != wh.TimeoutSeconds {
		t.Fatalf("TimeoutSeconds = %d", rec.TimeoutSeconds)
	}

	// A claimed row must be invisible to the next claim until completed.
	again, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed row handed out twice: %d records", len(again))
	}

	d, err := store.GetDelivery(ctx, rec.DeliveryID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if d.Status != models.DeliveryProcessing {
		t.Fatalf("status = %s, want processing", d.Status)
	}
}

func TestClaimDueEligibility(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store)
	createTestWebhook(t, store, user.ID, []string{models.EventNoteUpdated}, true)

	if _, err := store.Enqueue(ctx, user.ID, models.EventNoteUpdated, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	records, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	id := records[0].DeliveryID

	// Fail it with a retry scheduled in the future: not claimable yet.
	status := 500
	future := time.Now().UTC().Add(time.Hour)
	err = store.CompleteDelivery(ctx, models.Completion{
		DeliveryID:     id,
		ResponseStatus: &status,
		ErrorMessage:   "HTTP 500",
		NextRetryAt:    &future,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if records, _ := store.ClaimDue(ctx, 10); len(records) != 0 {
		t.Fatalf("future-retry row should not be claimable, got %d", len(records))
	}

	// Make the retry due: claimable again, as attempt 2.
	d, _ := store.GetDelivery(ctx, id)
	if d.Status != models.DeliveryFailed || d.AttemptNumber != 1 {
		t.Fatalf("delivery = status %s attempt %d", d.Status, d.AttemptNumber)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if err := store.CompleteDelivery(ctx, models.Completion{
		DeliveryID:     id,
		ResponseStatus: &status,
		ErrorMessage:   "HTTP 500",
		NextRetryAt:    &past,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	records, err = store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("due retry not claimed, got %d records", len(records))
	}
	if records[0].AttemptNumber != 3 {
		t.Fatalf("AttemptNumber = %d, want 3", records[0].AttemptNumber)
	}

	// Terminal failure: never claimable again.
	if err := store.CompleteDelivery(ctx, models.Completion{
		DeliveryID:   id,
		ErrorMessage: "timeout",
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if records, _ := store.ClaimDue(ctx, 10); len(records) != 0 {
		t.Fatalf("terminal delivery claimed again: %d records", len(records))
	}
	d, _ = store.GetDelivery(ctx, id)
	if d.Status != models.DeliveryFailed || d.NextRetryAt != nil {
		t.Fatalf("terminal delivery = status %s next_retry_at %v", d.Status, d.NextRetryAt)
	}
}

func TestCompleteDeliverySuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store)
	wh := createTestWebhook(t, store, user.ID, []string{models.EventNoteCreated}, true)

	if _, err := store.Enqueue(ctx, user.ID, models.EventNoteCreated, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	records, err := store.ClaimDue(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("claim: %v (%d records)", err, len(records))
	}

	status := 200
	err = store.CompleteDelivery(ctx, models.Completion{
		DeliveryID:     records[0].DeliveryID,
		Success:        true,
		ResponseStatus: &status,
		ResponseBody:   "ok",
		LatencyMs:      12,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	d, err := store.GetDelivery(ctx, records[0].DeliveryID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if d.Status != models.DeliveryCompleted {
		t.Fatalf("status = %s", d.Status)
	}
	if d.AttemptNumber != 1 {
		t.Fatalf("attempt_number = %d", d.AttemptNumber)
	}
	if d.DeliveredAt == nil {
		t.Fatal("delivered_at not set")
	}
	if d.ResponseStatus == nil || *d.ResponseStatus != 200 {
		t.Fatalf("response_status = %v", d.ResponseStatus)
	}

	attempts, err := store.GetAttemptsByDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].StatusCode != 200 || attempts[0].AttemptNumber != 1 {
		t.Fatalf("attempt history = %+v", attempts)
	}

	updated, err := store.GetWebhook(ctx, wh.ID)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if updated.TotalDeliveries != 1 || updated.SuccessfulDeliveries != 1 || updated.FailedDeliveries != 0 {
		t.Fatalf("counters = total %d success %d failed %d",
			updated.TotalDeliveries, updated.SuccessfulDeliveries, updated.FailedDeliveries)
	}
	if updated.LastTriggeredAt == nil {
		t.Fatal("last_triggered_at not set")
	}
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := createTestUser(t, store)
	createTestWebhook(t, store, user.ID, []string{models.EventNoteCreated}, true)
	createTestWebhook(t, store, user.ID, []string{models.EventNoteCreated}, false)

	if _, err := store.Enqueue(ctx, user.ID, models.EventNoteCreated, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats, err := store.GetStats(ctx, user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalWebhooks != 2 || stats.ActiveWebhooks != 1 {
		t.Fatalf("webhook counts = %d/%d", stats.TotalWebhooks, stats.ActiveWebhooks)
	}
	if stats.TotalDeliveries != 1 || stats.PendingCount != 1 {
		t.Fatalf("delivery counts = total %d pending %d", stats.TotalDeliveries, stats.PendingCount)
	}
}
