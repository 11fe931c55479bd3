package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scribesync/hookd/internal/config"
)

// Runner triggers the dispatcher on a fixed cadence. It is optional glue:
// deployments with an external cron can run `hookd dispatch` instead, and
// both may overlap safely because the store's claim is exclusive.
type Runner struct {
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	log        zerolog.Logger
	stop       chan struct{}
	wg         sync.WaitGroup
}

func NewRunner(cfg config.DispatchConfig, dispatcher *Dispatcher, log zerolog.Logger) *Runner {
	return &Runner{
		dispatcher: dispatcher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		log:        log,
		stop:       make(chan struct{}),
	}
}

func (r *Runner) Start(ctx context.Context) {
	r.log.Info().
		Dur("interval", r.interval).
		Int("batch_size", r.batchSize).
		Msg("starting dispatch runner")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop(ctx)
	}()
}

func (r *Runner) Stop() {
	close(r.stop)
	r.wg.Wait()
	r.log.Info().Msg("dispatch runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Claim failures are transient (store unreachable); the next
			// tick retries.
			if _, err := r.dispatcher.RunBatch(ctx, r.batchSize); err != nil {
				r.log.Error().Err(err).Msg("dispatch batch failed")
			}
		}
	}
}
