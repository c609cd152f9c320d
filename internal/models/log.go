package models

import "time"

// MaxLoggedBodyBytes bounds how much of the receiver's response body is
// persisted per attempt.
const MaxLoggedBodyBytes = 1000

// DeliveryLogEntry is the append-only record of one HTTP delivery attempt.
// StatusCode and ResponseBody are nil when no response was received
// (timeout, DNS failure, connection refused).
type DeliveryLogEntry struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	EntryID        string    `json:"entry_id"`
	EventType      string    `json:"event_type"`
	AttemptNumber  int       `json:"attempt_number"`
	StatusCode     *int      `json:"status_code,omitempty"`
	ResponseBody   *string   `json:"response_body,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
