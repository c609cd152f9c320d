// Package enqueue turns one business event into N queue entries, one per
// matching subscription. It never touches the network; delivery is the
// worker's job.
package enqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/storage"
)

type Enqueuer struct {
	store storage.Storage
	log   zerolog.Logger
}

func New(store storage.Storage, log zerolog.Logger) *Enqueuer {
	return &Enqueuer{store: store, log: log}
}

// Enqueue fans the event out to every active subscription that wants
// eventType. Each entry gets its own copy of the payload bytes, frozen at
// this moment; retries resend exactly these bytes even if the source
// record changes later. All entries are written in one transaction, so the
// caller never observes a partial fan-out. Returns the number of entries
// created; 0 means no subscriber is configured, which is not an error.
func (e *Enqueuer) Enqueue(ctx context.Context, eventType string, payload json.RawMessage) (int, error) {
	if strings.TrimSpace(eventType) == "" {
		return 0, &models.ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if len(payload) == 0 {
		return 0, &models.ValidationError{Field: "payload", Reason: "must not be empty"}
	}
	if !json.Valid(payload) {
		return 0, &models.ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}

	subs, err := e.store.FindActiveSubscriptions(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("finding subscriptions for %s: %w", eventType, err)
	}
	if len(subs) == 0 {
		e.log.Debug().Str("event_type", eventType).Msg("no subscribers for event")
		return 0, nil
	}

	now := time.Now().UTC()
	entries := make([]models.QueueEntry, 0, len(subs))
	for _, sub := range subs {
		snapshot := make(json.RawMessage, len(payload))
		copy(snapshot, payload)

		entries = append(entries, models.QueueEntry{
			ID:             models.NewID("qe"),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        snapshot,
			Status:         models.EntryPending,
			CreatedAt:      now,
		})
	}

	if err := e.store.CreateQueueEntries(ctx, entries); err != nil {
		ids := make([]string, len(subs))
		for i, sub := range subs {
			ids[i] = sub.ID
		}
		e.log.Error().Err(err).
			Str("event_type", eventType).
			Strs("subscription_ids", ids).
			Msg("fan-out rolled back, no entries created")
		return 0, fmt.Errorf("enqueueing %s for %d subscriptions: %w", eventType, len(subs), err)
	}

	e.log.Info().
		Str("event_type", eventType).
		Int("entries", len(entries)).
		Msg("event fanned out")

	return len(entries), nil
}
