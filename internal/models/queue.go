package models

import (
	"encoding/json"
	"time"
)

type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryProcessing EntryStatus = "processing"
	EntrySent       EntryStatus = "sent"
	EntryFailed     EntryStatus = "failed"
)

// QueueEntry is one pending or attempted delivery of one event to one
// subscription. Payload is a snapshot captured at enqueue time; retries
// always resend these exact bytes.
type QueueEntry struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         EntryStatus     `json:"status"`
	Attempts       int             `json:"attempts"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Terminal reports whether the entry has reached a final state; terminal
// entries are retained for audit and never touched by the worker again.
func (e *QueueEntry) Terminal() bool {
	return e.Status == EntrySent || e.Status == EntryFailed
}
