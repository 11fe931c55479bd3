// Package dispatch is the delivery engine: it claims due deliveries from
// the store, attempts them over HTTP, and reports outcomes back with the
// retry schedule applied.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scribesync/hookd/internal/models"
)

// Store is the slice of the persistence layer the dispatcher touches.
// ClaimDue must hand out each eligible delivery to exactly one caller;
// that exclusivity is the sole concurrency-safety mechanism, so overlapping
// RunBatch invocations are safe.
type Store interface {
	ClaimDue(ctx context.Context, limit int) ([]models.ClaimRecord, error)
	CompleteDelivery(ctx context.Context, c models.Completion) error
}

// Summary is what a batch run reports to its scheduler.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"successes"`
	Failed    int `json:"failures"`
}

type Dispatcher struct {
	store  Store
	sender *Sender
	log    zerolog.Logger
}

func NewDispatcher(store Store, sender *Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		log:    log,
	}
}

// RunBatch claims up to limit due deliveries and attempts them one by one.
// Individual attempt failures never abort the batch; only a claim failure
// does, returning a zero summary. The loop is stateless and idempotent to
// invoke, so a cron-like scheduler can fire it at will.
func (d *Dispatcher) RunBatch(ctx context.Context, limit int) (Summary, error) {
	records, err := d.store.ClaimDue(ctx, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("claim due deliveries: %w", err)
	}

	var sum Summary
	for _, rec := range records {
		sum.Processed++
		if d.attempt(ctx, rec) {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}

	if sum.Processed > 0 {
		d.log.Info().
			Int("processed", sum.Processed).
			Int("succeeded", sum.Succeeded).
			Int("failed", sum.Failed).
			Msg("dispatch batch complete")
	}
	return sum, nil
}

// attempt runs one delivery and reports its completion. Returns whether the
// endpoint accepted the event.
func (d *Dispatcher) attempt(ctx context.Context, rec models.ClaimRecord) bool {
	result := d.sender.Send(ctx, SendRequest{
		URL:            rec.URL,
		Secret:         rec.Secret,
		EventType:      rec.EventType,
		EventData:      rec.EventData,
		UserID:         rec.UserID,
		DeliveryID:     rec.DeliveryID,
		TimeoutSeconds: rec.TimeoutSeconds,
	})

	c := models.Completion{
		DeliveryID: rec.DeliveryID,
		LatencyMs:  result.LatencyMs,
	}

	switch {
	case result.Error != "":
		// Transport failure: DNS, refused connection, TLS, timeout.
		c.ErrorMessage = result.Error
		c.NextRetryAt = NextRetryAt(time.Now().UTC(), rec.AttemptNumber, rec.MaxAttempts)
	case !result.OK:
		status := result.StatusCode
		c.ResponseStatus = &status
		c.ResponseBody = result.Body
		c.ErrorMessage = fmt.Sprintf("HTTP %d", status)
		c.NextRetryAt = NextRetryAt(time.Now().UTC(), rec.AttemptNumber, rec.MaxAttempts)
	default:
		status := result.StatusCode
		c.Success = true
		c.ResponseStatus = &status
		c.ResponseBody = result.Body
	}

	if err := d.store.CompleteDelivery(ctx, c); err != nil {
		d.log.Error().Err(err).
			Str("delivery_id", rec.DeliveryID).
			Msg("failed to record delivery completion")
		return false
	}

	if c.Success {
		d.log.Info().
			Str("delivery_id", rec.DeliveryID).
			Int("attempt", rec.AttemptNumber).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("delivery succeeded")
	} else if c.NextRetryAt != nil {
		d.log.Info().
			Str("delivery_id", rec.DeliveryID).
			Int("attempt", rec.AttemptNumber).
			Str("error", c.ErrorMessage).
			Time("next_retry", *c.NextRetryAt).
			Msg("delivery scheduled for retry")
	} else {
		d.log.Warn().
			Str("delivery_id", rec.DeliveryID).
			Int("attempts", rec.AttemptNumber).
			Str("error", c.ErrorMessage).
			Msg("delivery permanently failed")
	}

	return c.Success
}
