package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultGuardTTL = 30 * time.Second

// releaseGuardScript deletes the key only while it still holds the caller's token.
var releaseGuardScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisReferenceGuard is a short-lived per-reference lock in Redis. It only thins out
// concurrent duplicates; the database row lock remains the source of truth.
type RedisReferenceGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisReferenceGuard stores claims under "<prefix>:settle_guard".
func NewRedisReferenceGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisReferenceGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisReferenceGuard{
		client: client,
		prefix: keyPrefix(prefix, "settle_guard"),
		ttl:    ttl,
	}
}

// Claim tries to take reference within scope. When claimed, release must be called once the
// attempt finishes. An expired claim frees itself.
func (g *RedisReferenceGuard) Claim(ctx context.Context, scope string, reference string) (release func(), claimed bool, err error) {
	noop := func() {}
	if g == nil || g.client == nil {
		return noop, true, nil
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return noop, true, nil
	}

	key := fmt.Sprintf("%s:%s:%s", g.prefix, strings.TrimSpace(scope), reference)
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return noop, false, err
	}
	if !ok {
		return noop, false, nil
	}

	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseGuardScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			log.Printf("level=warn component=reference_guard key=%s msg=\"failed to release guard; it will expire\" err=%v", key, err)
		}
	}
	return release, true, nil
}
