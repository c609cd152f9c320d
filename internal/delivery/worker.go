package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fantasbr/hookline/internal/metrics"
	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/ratelimit"
	"github.com/fantasbr/hookline/internal/storage"
)

// Worker drives one queue entry through a full delivery attempt: claim,
// sign, POST, log, and transition to sent, pending (retry) or failed.
type Worker struct {
	store       storage.Storage
	sender      *Sender
	limiter     *ratelimit.Limiter
	metrics     *metrics.Metrics
	log         zerolog.Logger
	backoffBase time.Duration
	backoffMax  time.Duration
}

func NewWorker(store storage.Storage, sender *Sender, limiter *ratelimit.Limiter, m *metrics.Metrics, log zerolog.Logger, backoffBase, backoffMax time.Duration) *Worker {
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	if backoffMax <= 0 {
		backoffMax = DefaultBackoffMax
	}
	return &Worker{
		store:       store,
		sender:      sender,
		limiter:     limiter,
		metrics:     m,
		log:         log,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

// Process attempts delivery of a due entry. The entry is claimed here, not
// by the caller, so concurrent workers racing for the same entry resolve
// through the store: exactly one claim succeeds and the rest skip.
//
// Entries for deactivated subscriptions are still delivered; deactivation
// stops future fan-out, it does not abandon work already queued.
func (w *Worker) Process(ctx context.Context, entry *models.QueueEntry) {
	sub, err := w.store.GetSubscription(ctx, entry.SubscriptionID)
	if err != nil {
		w.log.Error().Err(err).
			Str("entry_id", entry.ID).
			Str("subscription_id", entry.SubscriptionID).
			Msg("failed to load subscription for queue entry")
		return
	}
	if sub == nil {
		// Cascade delete removes entries with their subscription, so an
		// orphan indicates a bug or manual surgery. Retire it.
		w.failOrphan(ctx, entry)
		return
	}

	if !w.limiter.Allow(ctx, sub.ID, sub.RateLimitPerSecond) {
		// Leave the entry pending without consuming an attempt; the next
		// pass will pick it up again.
		w.metrics.RecordAttempt("rate_limited", 0)
		w.log.Debug().
			Str("entry_id", entry.ID).
			Str("subscription_id", sub.ID).
			Msg("delivery deferred by rate limit")
		return
	}

	// The claim returns the database's attempts count; entry.Attempts is a
	// snapshot and another runner may have attempted since it was taken.
	attempt, claimed, err := w.store.ClaimQueueEntry(ctx, entry.ID, time.Now().UTC())
	if err != nil {
		w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to claim queue entry")
		return
	}
	if !claimed {
		return
	}

	result := w.sender.Send(ctx, sub, entry.EventType, entry.Payload)

	// The attempt is recorded before the status transition. If the log
	// write fails we keep the entry in processing; the stale reclaim
	// returns it to pending rather than losing the audit trail.
	if err := w.logAttempt(ctx, entry, sub, attempt, result); err != nil {
		w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to record delivery attempt")
		return
	}

	if result.Succeeded() {
		if err := w.store.MarkEntrySent(ctx, entry.ID); err != nil {
			w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to mark entry sent")
			return
		}
		w.metrics.RecordAttempt("sent", result.Duration.Seconds())
		w.log.Info().
			Str("entry_id", entry.ID).
			Str("subscription_id", sub.ID).
			Str("event_type", entry.EventType).
			Int("attempt", attempt).
			Int("status_code", *result.StatusCode).
			Int64("duration_ms", result.Duration.Milliseconds()).
			Msg("webhook delivered")
		return
	}

	logEvt := w.log.Warn().
		Str("entry_id", entry.ID).
		Str("subscription_id", sub.ID).
		Str("event_type", entry.EventType).
		Int("attempt", attempt).
		Int64("duration_ms", result.Duration.Milliseconds()).
		Str("error", result.Err)
	if result.StatusCode != nil {
		logEvt = logEvt.Int("status_code", *result.StatusCode)
	}

	if attempt >= sub.RetryCount {
		if err := w.store.MarkEntryFailed(ctx, entry.ID); err != nil {
			w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to mark entry failed")
			return
		}
		w.metrics.RecordAttempt("failed", result.Duration.Seconds())
		logEvt.Msg("webhook delivery failed, retries exhausted")
		return
	}

	next := NextAttemptAt(time.Now().UTC(), attempt, w.backoffBase, w.backoffMax)
	if err := w.store.ReleaseEntryForRetry(ctx, entry.ID, next); err != nil {
		w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to schedule retry")
		return
	}
	w.metrics.RecordAttempt("retry", result.Duration.Seconds())
	logEvt.Time("next_attempt_at", next).Msg("webhook delivery failed, retry scheduled")
}

func (w *Worker) logAttempt(ctx context.Context, entry *models.QueueEntry, sub *models.Subscription, attempt int, result *SendResult) error {
	rec := &models.DeliveryLogEntry{
		ID:             models.NewID("log"),
		SubscriptionID: sub.ID,
		EntryID:        entry.ID,
		EventType:      entry.EventType,
		AttemptNumber:  attempt,
		StatusCode:     result.StatusCode,
		DurationMs:     result.Duration.Milliseconds(),
		CreatedAt:      time.Now().UTC(),
	}
	if result.StatusCode != nil {
		body := result.Body
		rec.ResponseBody = &body
	}
	if result.Err != "" {
		errMsg := result.Err
		rec.Error = &errMsg
	}
	return w.store.CreateLogEntry(ctx, rec)
}

func (w *Worker) failOrphan(ctx context.Context, entry *models.QueueEntry) {
	_, claimed, err := w.store.ClaimQueueEntry(ctx, entry.ID, time.Now().UTC())
	if err != nil || !claimed {
		return
	}
	if err := w.store.MarkEntryFailed(ctx, entry.ID); err != nil {
		w.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to retire orphaned queue entry")
		return
	}
	w.log.Warn().
		Str("entry_id", entry.ID).
		Str("subscription_id", entry.SubscriptionID).
		Msg("retired queue entry with no subscription")
}
