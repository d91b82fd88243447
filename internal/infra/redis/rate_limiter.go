package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// A rejected event does not count towards the window.
var windowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[2]) then
  return 0
end
if redis.call('INCR', KEYS[1]) == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

// RateLimiter is a fixed-window counter shared by every instance.
// Windows are stored as: SET versus:rl:{key} {count} PX {window}
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

func NewRateLimiter(client *redis.Client, window time.Duration, max int) *RateLimiter {
	return &RateLimiter{client: client, window: window, max: max}
}

// Allow admits one event for key. A non-positive window or maximum disables the limiter.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.window <= 0 || l.max <= 0 {
		return true, nil
	}
	n, err := windowScript.Run(ctx, l.client, []string{"versus:rl:" + key}, l.window.Milliseconds(), l.max).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
