package storage

import (
	"context"
	"time"

	"github.com/fantasbr/hookline/internal/models"
)

// Storage is the persistence boundary. Lookups return (nil, nil) when the
// record does not exist; callers that need an error map that to
// models.ErrNotFound.
type Storage interface {
	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscriptionSecret(ctx context.Context, id, secret string) error
	SetSubscriptionActive(ctx context.Context, id string, active bool) error
	DeleteSubscription(ctx context.Context, id string) error
	FindActiveSubscriptions(ctx context.Context, eventType string) ([]models.Subscription, error)

	// Queue entries. CreateQueueEntries is all-or-none: a single
	// transaction covers the whole fan-out of one business event.
	CreateQueueEntries(ctx context.Context, entries []models.QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListQueueEntriesBySubscription(ctx context.Context, subscriptionID string, limit int) ([]models.QueueEntry, error)
	ListDueEntries(ctx context.Context, now time.Time, limit int) ([]models.QueueEntry, error)
	// ClaimQueueEntry returns the post-claim attempts count; callers must
	// use it, not a previously loaded snapshot, for attempt accounting.
	ClaimQueueEntry(ctx context.Context, id string, now time.Time) (int, bool, error)
	MarkEntrySent(ctx context.Context, id string) error
	MarkEntryFailed(ctx context.Context, id string) error
	ReleaseEntryForRetry(ctx context.Context, id string, nextAttemptAt time.Time) error
	ReclaimStaleEntries(ctx context.Context, olderThan time.Time) (int64, error)

	// Delivery log (append-only)
	CreateLogEntry(ctx context.Context, entry *models.DeliveryLogEntry) error
	ListLogsBySubscription(ctx context.Context, subscriptionID string, limit int) ([]models.DeliveryLogEntry, error)
	ListLogsByEntry(ctx context.Context, entryID string) ([]models.DeliveryLogEntry, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string) error

	// Stats
	QueueCounts(ctx context.Context) (map[models.EntryStatus]int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
