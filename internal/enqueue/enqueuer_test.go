package enqueue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/storage"
)

func newEnqueuer(t *testing.T) (*Enqueuer, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return New(store, zerolog.Nop()), store
}

func addSubscription(t *testing.T, store storage.Storage, events []string, active bool) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:             models.NewID("sub"),
		Name:           "sink",
		URL:            "https://example.com/hooks",
		Events:         events,
		Secret:         "whsec_x",
		Headers:        map[string]string{},
		Active:         active,
		RetryCount:     3,
		TimeoutSeconds: 30,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}

func TestEnqueueFansOutToMatchingSubscriptions(t *testing.T) {
	enq, store := newEnqueuer(t)
	ctx := context.Background()

	a := addSubscription(t, store, []string{"student.enrolled"}, true)
	b := addSubscription(t, store, []string{"student.enrolled", "invoice.paid"}, true)
	addSubscription(t, store, []string{"invoice.paid"}, true)      // other event
	addSubscription(t, store, []string{"student.enrolled"}, false) // inactive

	n, err := enq.Enqueue(ctx, "student.enrolled", []byte(`{"student_id":"stu_1"}`))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, sub := range []*models.Subscription{a, b} {
		entries, err := store.ListQueueEntriesBySubscription(ctx, sub.ID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, models.EntryPending, entries[0].Status)
		require.Equal(t, "student.enrolled", entries[0].EventType)
		require.Equal(t, 0, entries[0].Attempts)
		require.JSONEq(t, `{"student_id":"stu_1"}`, string(entries[0].Payload))
	}
}

func TestEnqueueNoSubscribersIsNotAnError(t *testing.T) {
	enq, _ := newEnqueuer(t)

	n, err := enq.Enqueue(context.Background(), "nobody.cares", []byte(`{}`))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEnqueueValidation(t *testing.T) {
	enq, _ := newEnqueuer(t)
	ctx := context.Background()

	_, err := enq.Enqueue(ctx, "", []byte(`{}`))
	require.True(t, models.IsValidation(err))

	_, err = enq.Enqueue(ctx, "  ", []byte(`{}`))
	require.True(t, models.IsValidation(err))

	_, err = enq.Enqueue(ctx, "student.enrolled", nil)
	require.True(t, models.IsValidation(err))

	_, err = enq.Enqueue(ctx, "student.enrolled", []byte(`{not json`))
	require.True(t, models.IsValidation(err))
}

func TestEnqueueSnapshotsPayload(t *testing.T) {
	enq, store := newEnqueuer(t)
	ctx := context.Background()

	sub := addSubscription(t, store, []string{"student.enrolled"}, true)

	payload := []byte(`{"status":"active"}`)
	n, err := enq.Enqueue(ctx, "student.enrolled", payload)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Mutating the caller's buffer afterwards must not leak into the
	// stored snapshot.
	copy(payload, []byte(`{"status":"BROKEN"}`))

	entries, err := store.ListQueueEntriesBySubscription(ctx, sub.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.JSONEq(t, `{"status":"active"}`, string(entries[0].Payload))
}
