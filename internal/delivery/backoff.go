package delivery

import "time"

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = time.Hour
)

// NextAttemptAt computes when a failed entry becomes eligible again:
// base doubled per completed attempt, capped at max. attempt is 1-based
// (attempt 1 just failed, so the delay before attempt 2 is base).
func NextAttemptAt(now time.Time, attempt int, base, max time.Duration) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	return now.Add(delay).UTC()
}
