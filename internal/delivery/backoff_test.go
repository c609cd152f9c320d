package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextAttemptAtDoubles(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := 30 * time.Second
	max := time.Hour

	cases := []struct {
		attempt int
		delay   time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},  // capped
		{20, time.Hour}, // stays capped
	}
	for _, tc := range cases {
		got := NextAttemptAt(now, tc.attempt, base, max)
		require.Equal(t, now.Add(tc.delay), got, "attempt %d", tc.attempt)
	}
}

func TestNextAttemptAtDeterministic(t *testing.T) {
	now := time.Now().UTC()
	a := NextAttemptAt(now, 3, 30*time.Second, time.Hour)
	b := NextAttemptAt(now, 3, 30*time.Second, time.Hour)
	require.Equal(t, a, b)
}

func TestNextAttemptAtDefaults(t *testing.T) {
	now := time.Now().UTC()
	got := NextAttemptAt(now, 0, 0, 0)
	require.Equal(t, now.Add(DefaultBackoffBase), got)
}
