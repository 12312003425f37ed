package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/turnstile/ports"
)

// hitScript increments the key, starts its expiry on the first hit and
// returns the count together with the remaining window in milliseconds.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounter is a fixed-window counter shared by every service instance.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisCounter creates a new Redis-backed attempt counter
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "turnstile:login:"
	}
	return &RedisCounter{client: client, prefix: prefix, now: time.Now}
}

var _ ports.AttemptCounter = (*RedisCounter)(nil)

// Hit records one attempt for key
func (c *RedisCounter) Hit(ctx context.Context, key string, size time.Duration) (int, time.Time, error) {
	res, err := hitScript.Run(ctx, c.client, []string{c.prefix + key}, size.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count attempt: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected limiter reply: %v", res)
	}

	return int(res[0]), c.now().Add(time.Duration(res[1]) * time.Millisecond), nil
}
