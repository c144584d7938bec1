// Package outbox delivers the side effects recorded alongside primary writes:
// search projection and notification emails. Events are claimed in batches,
// retried with exponential backoff and parked once they run out of attempts.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agitracker/api/internal/metrics"
	"agitracker/api/internal/store"
)

// Store is the persistence the worker drains.
type Store interface {
	ClaimOutboxEvents(ctx context.Context, limit int, lease time.Duration) ([]store.OutboxEvent, error)
	CompleteOutboxEvent(ctx context.Context, id int64) error
	RetryOutboxEvent(ctx context.Context, id int64, retryAt time.Time, lastError string) error
	FailOutboxEvent(ctx context.Context, id int64, lastError string) error
}

// Handler delivers one event. A returned error schedules a retry unless it
// wraps ErrPermanent.
type Handler func(ctx context.Context, event store.OutboxEvent) error

// ErrPermanent marks failures that retrying cannot fix, such as an
// undecodable payload.
var ErrPermanent = errors.New("permanent outbox failure")

type Options struct {
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	// Lease is how long a claimed event stays invisible to other workers.
	Lease      time.Duration
	RetryMin   time.Duration
	RetryMax   time.Duration
	RetryScale float64
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.RetryMin <= 0 {
		o.RetryMin = 5 * time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Minute
	}
	if o.RetryScale <= 1 {
		o.RetryScale = 2
	}
	return o
}

type Worker struct {
	store    Store
	handlers map[string]Handler
	opts     Options
	retry    *backoff.Backoff
	now      func() time.Time
}

func NewWorker(st Store, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		store:    st,
		handlers: make(map[string]Handler),
		opts:     opts,
		retry: &backoff.Backoff{
			Min:    opts.RetryMin,
			Max:    opts.RetryMax,
			Factor: opts.RetryScale,
			Jitter: true,
		},
		now: time.Now,
	}
}

// Handle registers the handler for an event kind.
func (w *Worker) Handle(kind string, handler Handler) {
	w.handlers[kind] = handler
}

// Run drains the outbox until ctx is cancelled. A full batch is followed
// immediately by another claim; otherwise the worker sleeps for the poll
// interval. Claim failures back off like a dropped connection would.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Int("batch_size", w.opts.BatchSize).Dur("poll_interval", w.opts.PollInterval).Msg("outbox: worker started")

	boff := backoff.Backoff{
		Min: w.opts.PollInterval,
		Max: time.Minute,
	}

	for {
		wait := w.opts.PollInterval
		n, err := w.ProcessBatch(ctx)
		switch {
		case ctx.Err() != nil:
			log.Info().Msg("outbox: worker stopped")
			return
		case err != nil:
			wait = boff.Duration()
			log.Error().Err(err).Dur("retrying after", wait).Msg("outbox: claim failed")
		default:
			boff.Reset()
			if n == w.opts.BatchSize {
				continue
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("outbox: worker stopped")
			return
		case <-timer.C:
		}
	}
}

// ProcessBatch claims and delivers one batch, returning how many events it claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	events, err := w.store.ClaimOutboxEvents(ctx, w.opts.BatchSize, w.opts.Lease)
	if err != nil {
		return 0, fmt.Errorf("claim outbox events: %w", err)
	}
	for _, event := range events {
		if ctx.Err() != nil {
			// Unfinished events become claimable again when the lease runs out.
			return len(events), nil
		}
		w.deliver(ctx, event)
	}
	return len(events), nil
}

func (w *Worker) deliver(ctx context.Context, event store.OutboxEvent) {
	logger := log.With().Int64("event_id", event.ID).Str("kind", event.Kind).Int("attempt", event.Attempts).Logger()

	handler, ok := w.handlers[event.Kind]
	if !ok {
		w.fail(ctx, logger, event, fmt.Errorf("%w: no handler for kind %q", ErrPermanent, event.Kind))
		return
	}

	err := handler(logger.WithContext(ctx), event)
	if err == nil {
		if err := w.store.CompleteOutboxEvent(ctx, event.ID); err != nil {
			logger.Error().Err(err).Msg("outbox: mark event done")
			return
		}
		metrics.OutboxEvent(event.Kind, "done")
		logger.Debug().Msg("outbox: event delivered")
		return
	}

	if errors.Is(err, ErrPermanent) || event.Attempts >= w.opts.MaxAttempts {
		w.fail(ctx, logger, event, err)
		return
	}

	delay := w.retry.ForAttempt(float64(event.Attempts - 1))
	retryAt := w.now().Add(delay)
	if err := w.store.RetryOutboxEvent(ctx, event.ID, retryAt, err.Error()); err != nil {
		logger.Error().Err(err).Msg("outbox: schedule retry")
		return
	}
	metrics.OutboxEvent(event.Kind, "retry")
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("outbox: delivery failed, will retry")
}

func (w *Worker) fail(ctx context.Context, logger zerolog.Logger, event store.OutboxEvent, cause error) {
	if err := w.store.FailOutboxEvent(ctx, event.ID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("outbox: park event")
		return
	}
	metrics.OutboxEvent(event.Kind, "failed")
	logger.Error().Err(cause).Msg("outbox: event parked")
}
