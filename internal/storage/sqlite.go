package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fantasbr/hookline/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			permissions TEXT NOT NULL DEFAULT '[]',
			expires_at DATETIME,
			revoked_at DATETIME,
			last_used_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			secret TEXT NOT NULL,
			headers TEXT NOT NULL DEFAULT '{}',
			active INTEGER NOT NULL DEFAULT 1,
			retry_count INTEGER NOT NULL DEFAULT 3,
			timeout_seconds INTEGER NOT NULL DEFAULT 30,
			rate_limit_per_second INTEGER NOT NULL DEFAULT 0,
			api_key_id TEXT REFERENCES api_keys(id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at DATETIME,
			last_attempt_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_log (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
			entry_id TEXT NOT NULL REFERENCES queue_entries(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			status_code INTEGER,
			response_body TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_due ON queue_entries(status, next_attempt_at) WHERE status IN ('pending', 'processing')`,
		`CREATE INDEX IF NOT EXISTS idx_queue_subscription ON queue_entries(subscription_id)`,
		`CREATE INDEX IF NOT EXISTS idx_log_subscription ON delivery_log(subscription_id)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entry ON delivery_log(entry_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Subscriptions ---

func (s *SQLiteStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	events, _ := json.Marshal(sub.Events)
	headers, _ := json.Marshal(sub.Headers)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, name, url, events, secret, headers, active, retry_count, timeout_seconds, rate_limit_per_second, api_key_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.URL, string(events), sub.Secret, string(headers), boolToInt(sub.Active),
		sub.RetryCount, sub.TimeoutSeconds, sub.RateLimitPerSecond, sub.APIKeyID, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

const subscriptionColumns = `id, name, url, events, secret, headers, active, retry_count, timeout_seconds, rate_limit_per_second, api_key_id, created_at, updated_at`

func (s *SQLiteStorage) scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var events, headers string
	var active int
	var apiKeyID sql.NullString
	err := row.Scan(&sub.ID, &sub.Name, &sub.URL, &events, &sub.Secret, &headers, &active,
		&sub.RetryCount, &sub.TimeoutSeconds, &sub.RateLimitPerSecond, &apiKeyID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(events), &sub.Events)
	json.Unmarshal([]byte(headers), &sub.Headers)
	sub.Active = active == 1
	if apiKeyID.Valid {
		sub.APIKeyID = &apiKeyID.String
	}
	return &sub, nil
}

func (s *SQLiteStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SQLiteStorage) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	events, _ := json.Marshal(sub.Events)
	headers, _ := json.Marshal(sub.Headers)
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET name = ?, url = ?, events = ?, headers = ?, active = ?, retry_count = ?, timeout_seconds = ?, rate_limit_per_second = ?, updated_at = ? WHERE id = ?`,
		sub.Name, sub.URL, string(events), string(headers), boolToInt(sub.Active),
		sub.RetryCount, sub.TimeoutSeconds, sub.RateLimitPerSecond, time.Now().UTC(), sub.ID,
	)
	return err
}

func (s *SQLiteStorage) UpdateSubscriptionSecret(ctx context.Context, id, secret string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FindActiveSubscriptions returns active subscriptions whose event set
// contains eventType. Events are stored as a JSON array, so membership is
// checked in the application after a cheap active-only scan.
func (s *SQLiteStorage) FindActiveSubscriptions(ctx context.Context, eventType string) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		if sub.SubscribedTo(eventType) {
			matched = append(matched, *sub)
		}
	}
	return matched, rows.Err()
}

// --- Queue entries ---

func (s *SQLiteStorage) CreateQueueEntries(ctx context.Context, entries []models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO queue_entries (id, subscription_id, event_type, payload, status, attempts, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SubscriptionID, e.EventType, string(e.Payload), e.Status, e.Attempts, e.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const queueColumns = `id, subscription_id, event_type, payload, status, attempts, next_attempt_at, last_attempt_at, created_at`

func (s *SQLiteStorage) scanQueueEntry(row interface{ Scan(...interface{}) error }) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var payload string
	var nextAt, lastAt sql.NullTime
	err := row.Scan(&e.ID, &e.SubscriptionID, &e.EventType, &payload, &e.Status, &e.Attempts, &nextAt, &lastAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	if nextAt.Valid {
		e.NextAttemptAt = &nextAt.Time
	}
	if lastAt.Valid {
		e.LastAttemptAt = &lastAt.Time
	}
	return &e, nil
}

func (s *SQLiteStorage) GetQueueEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE id = ?`, id)
	e, err := s.scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStorage) ListQueueEntriesBySubscription(ctx context.Context, subscriptionID string, limit int) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE subscription_id = ? ORDER BY created_at DESC LIMIT ?`,
		subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectQueueEntries(rows)
}

// ListDueEntries returns pending entries whose retry backoff has elapsed,
// oldest first so a flood of new events cannot starve old ones.
func (s *SQLiteStorage) ListDueEntries(ctx context.Context, now time.Time, limit int) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries
		 WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectQueueEntries(rows)
}

func (s *SQLiteStorage) collectQueueEntries(rows *sql.Rows) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	for rows.Next() {
		e, err := s.scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ClaimQueueEntry atomically moves one due entry from pending to
// processing, consuming an attempt. The post-claim attempts count comes
// back from the same statement so a worker holding a stale snapshot can
// never log or budget the wrong attempt number. A worker that loses the
// race, or whose entry's backoff has not elapsed yet, gets false and must
// skip the entry.
func (s *SQLiteStorage) ClaimQueueEntry(ctx context.Context, id string, now time.Time) (int, bool, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE queue_entries
		 SET status = 'processing', attempts = attempts + 1, last_attempt_at = ?
		 WHERE id = ? AND status = 'pending'
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 RETURNING attempts`,
		now.UTC(), id, now.UTC(),
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

func (s *SQLiteStorage) MarkEntrySent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'sent', next_attempt_at = NULL WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) MarkEntryFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'failed', next_attempt_at = NULL WHERE id = ? AND status = 'processing'`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) ReleaseEntryForRetry(ctx context.Context, id string, nextAttemptAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'pending', next_attempt_at = ? WHERE id = ? AND status = 'processing'`,
		nextAttemptAt.UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReclaimStaleEntries returns entries stuck in processing (a crashed or
// deadline-killed pass) to pending so they stay live. The attempts
// increment from the original claim is kept: the request may have gone out.
func (s *SQLiteStorage) ReclaimStaleEntries(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'pending' WHERE status = 'processing' AND last_attempt_at < ?`,
		olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Delivery log ---

func (s *SQLiteStorage) CreateLogEntry(ctx context.Context, entry *models.DeliveryLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log (id, subscription_id, entry_id, event_type, attempt_number, status_code, response_body, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SubscriptionID, entry.EntryID, entry.EventType, entry.AttemptNumber,
		entry.StatusCode, entry.ResponseBody, entry.DurationMs, entry.Error, entry.CreatedAt,
	)
	return err
}

const logColumns = `id, subscription_id, entry_id, event_type, attempt_number, status_code, response_body, duration_ms, error, created_at`

func (s *SQLiteStorage) scanLogEntry(row interface{ Scan(...interface{}) error }) (*models.DeliveryLogEntry, error) {
	var e models.DeliveryLogEntry
	var statusCode sql.NullInt64
	var respBody, errMsg sql.NullString
	err := row.Scan(&e.ID, &e.SubscriptionID, &e.EntryID, &e.EventType, &e.AttemptNumber,
		&statusCode, &respBody, &e.DurationMs, &errMsg, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if statusCode.Valid {
		code := int(statusCode.Int64)
		e.StatusCode = &code
	}
	if respBody.Valid {
		e.ResponseBody = &respBody.String
	}
	if errMsg.Valid {
		e.Error = &errMsg.String
	}
	return &e, nil
}

func (s *SQLiteStorage) ListLogsBySubscription(ctx context.Context, subscriptionID string, limit int) ([]models.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM delivery_log WHERE subscription_id = ? ORDER BY created_at DESC LIMIT ?`,
		subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectLogEntries(rows)
}

func (s *SQLiteStorage) ListLogsByEntry(ctx context.Context, entryID string) ([]models.DeliveryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM delivery_log WHERE entry_id = ? ORDER BY attempt_number`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectLogEntries(rows)
}

func (s *SQLiteStorage) collectLogEntries(rows *sql.Rows) ([]models.DeliveryLogEntry, error) {
	var entries []models.DeliveryLogEntry
	for rows.Next() {
		e, err := s.scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// --- API keys ---

func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	permissions, _ := json.Marshal(key.Permissions)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, permissions, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, string(permissions), key.ExpiresAt, key.CreatedAt,
	)
	return err
}

const apiKeyColumns = `id, name, key_hash, key_prefix, permissions, expires_at, revoked_at, last_used_at, created_at`

func (s *SQLiteStorage) scanAPIKey(row interface{ Scan(...interface{}) error }) (*models.APIKey, error) {
	var k models.APIKey
	var permissions string
	var expiresAt, revokedAt, lastUsedAt sql.NullTime
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &permissions, &expiresAt, &revokedAt, &lastUsedAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(permissions), &k.Permissions)
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return &k, nil
}

func (s *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := s.scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return k, err
}

func (s *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		k, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStorage) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStorage) TouchAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// --- Stats ---

func (s *SQLiteStorage) QueueCounts(ctx context.Context) (map[models.EntryStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_entries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.EntryStatus]int64{
		models.EntryPending:    0,
		models.EntryProcessing: 0,
		models.EntrySent:       0,
		models.EntryFailed:     0,
	}
	for rows.Next() {
		var status models.EntryStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
