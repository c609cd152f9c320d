package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/signing"
	"github.com/fantasbr/hookline/internal/storage"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestWorker(store storage.Storage) *Worker {
	// A tiny backoff base so retry tests only need a short wait before an
	// entry becomes claimable again.
	return NewWorker(store, NewSender(), nil, nil, zerolog.Nop(), time.Millisecond, time.Minute)
}

func waitUntilDue(t *testing.T, store storage.Storage, id string) {
	t.Helper()
	entry := reload(t, store, id)
	if entry.NextAttemptAt == nil {
		return
	}
	d := time.Until(*entry.NextAttemptAt) + 5*time.Millisecond
	if d > 0 {
		time.Sleep(d)
	}
}

func createSubscription(t *testing.T, store storage.Storage, url string, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:             models.NewID("sub"),
		Name:           "test endpoint",
		URL:            url,
		Events:         []string{"student.enrolled"},
		Secret:         "whsec_testsecret",
		Headers:        map[string]string{},
		Active:         true,
		RetryCount:     3,
		TimeoutSeconds: 5,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}

func createEntry(t *testing.T, store storage.Storage, sub *models.Subscription, payload string) *models.QueueEntry {
	t.Helper()
	entry := models.QueueEntry{
		ID:             models.NewID("ent"),
		SubscriptionID: sub.ID,
		EventType:      "student.enrolled",
		Payload:        []byte(payload),
		Status:         models.EntryPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateQueueEntries(context.Background(), []models.QueueEntry{entry}))
	return &entry
}

func reload(t *testing.T, store storage.Storage, id string) *models.QueueEntry {
	t.Helper()
	entry, err := store.GetQueueEntry(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry
}

func TestWorkerDeliversAndSigns(t *testing.T) {
	ctx := context.Background()

	var gotSig, gotEvent, gotCustom string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotCustom = r.Header.Get("X-Tenant")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, func(s *models.Subscription) {
		s.Headers = map[string]string{
			"X-Tenant": "acme",
			// Attempts to override reserved headers must lose.
			"X-Webhook-Signature": "spoofed",
		}
	})
	entry := createEntry(t, store, sub, `{"student_id":"stu_1"}`)

	newTestWorker(store).Process(ctx, entry)

	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntrySent, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.True(t, got.Terminal())

	require.Equal(t, `{"student_id":"stu_1"}`, string(gotBody))
	require.Equal(t, "student.enrolled", gotEvent)
	require.Equal(t, "acme", gotCustom)
	require.True(t, signing.Verify([]byte(sub.Secret), gotBody, gotSig))

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, 1, logs[0].AttemptNumber)
	require.NotNil(t, logs[0].StatusCode)
	require.Equal(t, http.StatusOK, *logs[0].StatusCode)
	require.NotNil(t, logs[0].ResponseBody)
	require.Equal(t, "ok", *logs[0].ResponseBody)
}

func TestWorkerRetriesThenExhausts(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, nil)
	entry := createEntry(t, store, sub, `{"n":1}`)
	w := newTestWorker(store)

	// Attempts 1 and 2 reschedule the entry.
	for i := 1; i <= 2; i++ {
		w.Process(ctx, reload(t, store, entry.ID))
		got := reload(t, store, entry.ID)
		require.Equal(t, models.EntryPending, got.Status)
		require.Equal(t, i, got.Attempts)
		require.NotNil(t, got.NextAttemptAt)
		require.True(t, got.NextAttemptAt.After(time.Now().UTC().Add(-time.Second)))
		waitUntilDue(t, store, entry.ID)
	}

	// Attempt 3 exhausts the retry budget.
	w.Process(ctx, reload(t, store, entry.ID))
	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntryFailed, got.Status)
	require.Equal(t, 3, got.Attempts)
	require.EqualValues(t, 3, hits.Load())

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		require.NotNil(t, l.StatusCode)
		require.Equal(t, http.StatusInternalServerError, *l.StatusCode)
		require.NotNil(t, l.Error)
	}
}

func TestWorkerEventualSuccess(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, nil)
	entry := createEntry(t, store, sub, `{"n":2}`)
	w := newTestWorker(store)

	for i := 0; i < 3; i++ {
		waitUntilDue(t, store, entry.ID)
		w.Process(ctx, reload(t, store, entry.ID))
	}

	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntrySent, got.Status)
	require.Equal(t, 3, got.Attempts)

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.NotNil(t, logs[2].StatusCode)
	require.Equal(t, http.StatusNoContent, *logs[2].StatusCode)
	require.Nil(t, logs[2].Error)
}

func TestWorkerTransportFailure(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing is listening anymore

	store := newTestStore(t)
	sub := createSubscription(t, store, url, nil)
	entry := createEntry(t, store, sub, `{}`)

	newTestWorker(store).Process(ctx, entry)

	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntryPending, got.Status)
	require.Equal(t, 1, got.Attempts)

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Nil(t, logs[0].StatusCode)
	require.Nil(t, logs[0].ResponseBody)
	require.NotNil(t, logs[0].Error)
}

func TestWorkerDeliversToInactiveSubscription(t *testing.T) {
	// Deactivation stops future fan-out; already queued entries still go
	// out.
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, nil)
	entry := createEntry(t, store, sub, `{}`)
	require.NoError(t, store.SetSubscriptionActive(ctx, sub.ID, false))

	newTestWorker(store).Process(ctx, entry)

	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntrySent, got.Status)
}

func TestWorkerStaleSnapshotHonorsBackoff(t *testing.T) {
	// Two runners can hold snapshots of the same entry (an embedded runner
	// plus a standalone worker process). After the first runner schedules a
	// retry, the second runner's snapshot must not jump the backoff.
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, nil)
	entry := createEntry(t, store, sub, `{}`)

	w := NewWorker(store, NewSender(), nil, nil, zerolog.Nop(), time.Minute, time.Hour)
	snapshot := reload(t, store, entry.ID)

	w.Process(ctx, snapshot)
	w.Process(ctx, snapshot)

	require.EqualValues(t, 1, hits.Load())
	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntryPending, got.Status)
	require.Equal(t, 1, got.Attempts)

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestWorkerStaleSnapshotCountsAttempts(t *testing.T) {
	// A runner working from a pre-claim snapshot must still log the real
	// attempt number and fail the entry exactly at the retry budget.
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, func(s *models.Subscription) {
		s.RetryCount = 2
	})
	entry := createEntry(t, store, sub, `{}`)

	w := newTestWorker(store)
	snapshot := reload(t, store, entry.ID) // attempts 0, never refreshed

	w.Process(ctx, snapshot)
	waitUntilDue(t, store, entry.ID)
	w.Process(ctx, snapshot)

	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntryFailed, got.Status)
	require.Equal(t, 2, got.Attempts)

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, 1, logs[0].AttemptNumber)
	require.Equal(t, 2, logs[1].AttemptNumber)
}

func TestWorkerTruncatesLoggedResponseBody(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("x", 5*models.MaxLoggedBodyBytes)))
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, nil)
	entry := createEntry(t, store, sub, `{}`)

	newTestWorker(store).Process(ctx, entry)

	logs, err := store.ListLogsByEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ResponseBody)
	require.Len(t, *logs[0].ResponseBody, models.MaxLoggedBodyBytes)
}

func TestWorkerSkipsAlreadyClaimedEntry(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := createSubscription(t, store, srv.URL, nil)
	entry := createEntry(t, store, sub, `{}`)

	// Another worker got there first.
	_, claimed, err := store.ClaimQueueEntry(ctx, entry.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, claimed)

	newTestWorker(store).Process(ctx, entry)

	require.EqualValues(t, 0, hits.Load())
	got := reload(t, store, entry.ID)
	require.Equal(t, models.EntryProcessing, got.Status)
	require.Equal(t, 1, got.Attempts)
}
