package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowCounterScript increments the counter for KEYS[1], starting a window of ARGV[1]
// milliseconds on the first hit, and returns the count with the window's remaining time.
var windowCounterScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {used, redis.call("PTTL", KEYS[1])}
`)

const minQuotaWindow = time.Second

// Quota is the state of one fixed window after a request was counted against it.
type Quota struct {
	Used       int
	Limit      int
	RetryAfter time.Duration
}

// Exceeded reports whether the counted request went over the limit.
func (q Quota) Exceeded() bool {
	return q.Limit > 0 && q.Used > q.Limit
}

// RetryAfterSeconds rounds the remaining window up to whole seconds, never below one.
func (q Quota) RetryAfterSeconds() int {
	seconds := int((q.RetryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

// RedisRateLimiter keeps one fixed-window counter per key in Redis so every replica of
// the service shares the same quota.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateLimiter stores counters under "<prefix>:rate_limit".
func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: keyPrefix(prefix, "rate_limit"),
	}
}

// keyPrefix joins the configured namespace and a component suffix.
func keyPrefix(prefix, suffix string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "fundflow"
	}
	return trimmed + ":" + suffix
}

// Take counts one request against key. A limiter without a client, an empty key or a
// non-positive limit never throttles.
func (l *RedisRateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (Quota, error) {
	quota := Quota{Limit: limit}
	key = strings.TrimSpace(key)
	if l == nil || l.client == nil || key == "" || limit <= 0 {
		return quota, nil
	}
	if window < minQuotaWindow {
		window = minQuotaWindow
	}

	reply, err := windowCounterScript.Run(ctx, l.client, []string{l.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return quota, fmt.Errorf("failed to count request for %s: %w", key, err)
	}
	if len(reply) != 2 {
		return quota, fmt.Errorf("unexpected limiter reply length %d", len(reply))
	}

	quota.Used = int(reply[0])
	quota.RetryAfter = window
	if reply[1] > 0 {
		quota.RetryAfter = time.Duration(reply[1]) * time.Millisecond
	}
	return quota, nil
}
