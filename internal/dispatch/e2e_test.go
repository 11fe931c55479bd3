package dispatch_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scribesync/hookd/internal/dispatch"
	"github.com/scribesync/hookd/internal/models"
	"github.com/scribesync/hookd/internal/signing"
	"github.com/scribesync/hookd/internal/storage"
)

// Full path through the real store: enqueue an event, run a dispatch batch
// against a live endpoint, and check the delivery lands terminal.
func TestDispatchEndToEnd(t *testing.T) {
	ctx := context.Background()

	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	user := &models.User{ID: models.NewID("usr"), Name: "e2e", APIKey: models.NewAPIKey(), CreatedAt: now, UpdatedAt: now}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	var received struct {
		event     string
		signature string
		timestamp string
		delivery  string
		body      []byte
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.event = r.Header.Get("X-SS-Event")
		received.signature = r.Header.Get("X-SS-Signature")
		received.timestamp = r.Header.Get("X-SS-Timestamp")
		received.delivery = r.Header.Get("X-SS-Delivery-Id")
		received.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	active := &models.Webhook{
		ID: models.NewID("wh"), UserID: user.ID, URL: srv.URL,
		Secret: models.NewSecret(), Events: []string{models.EventNoteCreated},
		IsActive: true, RetryAttempts: 3, TimeoutSeconds: 5,
		CreatedAt: now, UpdatedAt: now,
	}
	inactive := &models.Webhook{
		ID: models.NewID("wh"), UserID: user.ID, URL: srv.URL,
		Secret: models.NewSecret(), Events: []string{models.EventNoteCreated},
		IsActive: false, RetryAttempts: 3, TimeoutSeconds: 5,
		CreatedAt: now, UpdatedAt: now,
	}
	for _, w := range []*models.Webhook{active, inactive} {
		if err := store.CreateWebhook(ctx, w); err != nil {
			t.Fatalf("create webhook: %v", err)
		}
	}

	created, err := store.Enqueue(ctx, user.ID, models.EventNoteCreated, json.RawMessage(`{"note_id":"note_42","title":"standup"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 delivery enqueued, got %d", created)
	}

	d := dispatch.NewDispatcher(store, dispatch.NewSender(), zerolog.Nop())
	sum, err := d.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if sum.Processed != 1 || sum.Succeeded != 1 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	if received.event != models.EventNoteCreated {
		t.Errorf("X-SS-Event = %q", received.event)
	}
	if received.delivery == "" {
		t.Error("X-SS-Delivery-Id not set")
	}
	ts, err := strconv.ParseInt(received.timestamp, 10, 64)
	if err != nil {
		t.Fatalf("X-SS-Timestamp = %q: %v", received.timestamp, err)
	}
	if !signing.Verify(active.Secret, received.body, ts, received.signature) {
		t.Error("signature does not verify against delivered body")
	}

	deliveries, err := store.ListDeliveries(ctx, active.ID, 10, 0)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("list deliveries: %v (%d rows)", err, len(deliveries))
	}
	got := deliveries[0]
	if got.Status != models.DeliveryCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.AttemptNumber != 1 || got.DeliveredAt == nil {
		t.Fatalf("attempt = %d, delivered_at = %v", got.AttemptNumber, got.DeliveredAt)
	}

	// Nothing left for a second run.
	sum, err = d.RunBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.Processed != 0 {
		t.Fatalf("second run processed %d deliveries", sum.Processed)
	}
}
