package models

import "time"

const (
	DefaultRetryCount     = 3
	DefaultTimeoutSeconds = 30
)

// Subscription is one external notification target: where to POST, which
// events to receive, and how to sign and retry.
type Subscription struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Events             []string          `json:"events"`
	Secret             string            `json:"-"`
	Headers            map[string]string `json:"headers,omitempty"`
	Active             bool              `json:"active"`
	RetryCount         int               `json:"retry_count"`
	TimeoutSeconds     int               `json:"timeout_seconds"`
	RateLimitPerSecond int               `json:"rate_limit_per_second,omitempty"`
	APIKeyID           *string           `json:"api_key_id,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Timeout returns the per-request delivery timeout.
func (s *Subscription) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SubscribedTo reports whether the subscription wants the given event type.
func (s *Subscription) SubscribedTo(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
