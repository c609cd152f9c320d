// Package ratelimit throttles outbound deliveries per subscription using a
// Redis-backed sliding window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slidingWindow removes members older than the window, counts what is left,
// and admits the caller only while the count is under the limit. Running it
// as a single script keeps the check-and-add atomic.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
end
return 0
`)

type Limiter struct {
	client *redis.Client
	log    zerolog.Logger
}

// New returns a limiter backed by client. A nil client disables limiting;
// Allow then always returns true.
func New(client *redis.Client, log zerolog.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// Allow reports whether a delivery to the subscription may proceed right
// now. limit is deliveries per second; zero or negative means unlimited.
// Redis failures fail open so a limiter outage never stalls the queue.
func (l *Limiter) Allow(ctx context.Context, subscriptionID string, limit int) bool {
	if l == nil || limit <= 0 || l.client == nil {
		return true
	}

	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	res, err := slidingWindow.Run(ctx, l.client, []string{"hookline:rl:" + subscriptionID},
		now, int64(1000), limit, member,
	).Int64()
	if err != nil {
		l.log.Warn().Err(err).
			Str("subscription_id", subscriptionID).
			Msg("rate limiter unavailable, allowing delivery")
		return true
	}
	return res == 1
}
