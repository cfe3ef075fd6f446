package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec = 100
	rateLimitKeyPrefix = "feedback:ratelimit:"
	minRetryAfter      = 10 * time.Millisecond
	windowLength       = time.Second
)

// admitScript counts one call in the current window. It returns -1 when the
// call is admitted, otherwise the milliseconds left in the window.
var admitScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  local ttl = redis.call("PTTL", KEYS[1])
  if ttl < 0 then
    ttl = tonumber(ARGV[2])
  end
  return ttl
end
return -1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// LimiterConfig sets the per-second budget of each gateway key.
type LimiterConfig struct {
	DefaultPerSec int
	// PerKey overrides the default for single gateways, e.g. "sms:global".
	PerKey map[string]int
}

// RedisRateLimiter throttles provider calls per gateway with a fixed one-second
// window shared by every engine replica.
type RedisRateLimiter struct {
	client *goredis.Client
	limits map[string]int64
	dflt   int64
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	script *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, cfg LimiterConfig) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, cfg, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	cfg LimiterConfig,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	dflt := int64(cfg.DefaultPerSec)
	if dflt <= 0 {
		dflt = defaultLimitPerSec
	}
	limits := make(map[string]int64, len(cfg.PerKey))
	for key, limit := range cfg.PerKey {
		normalized := normalizeKey(key)
		if normalized == "" || limit <= 0 {
			return nil, fmt.Errorf("invalid rate limit override %q=%d", key, limit)
		}
		limits[normalized] = int64(limit)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limits: limits,
		dflt:   dflt,
		now:    nowFn,
		sleep:  sleepFn,
		script: admitScript,
	}, nil
}

// LimitFor returns the per-second budget applied to key.
func (r *RedisRateLimiter) LimitFor(key string) int64 {
	if limit, ok := r.limits[normalizeKey(key)]; ok {
		return limit
	}
	return r.dflt
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	retryAfter, err := r.admit(ctx, key)
	if err != nil {
		return false, err
	}
	return retryAfter == 0, nil
}

// Wait blocks until key has budget left, sleeping for the rest of the window
// each time it is over the limit.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		retryAfter, err := r.admit(ctx, key)
		if err != nil {
			return err
		}
		if retryAfter == 0 {
			return nil
		}
		if err := r.sleep(ctx, retryAfter); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) admit(ctx context.Context, key string) (time.Duration, error) {
	if r == nil || r.client == nil || r.script == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := normalizeKey(key)
	if normalized == "" {
		return 0, fmt.Errorf("%w: rate limit key is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	windowKey := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, normalized, r.now().UTC().Unix())
	ms, err := r.script.Run(ctx, r.client, []string{windowKey}, r.LimitFor(normalized), windowLength.Milliseconds()).Int64()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: rate limit check for %s: %v", domain.ErrStoreUnavailable, normalized, err)
	}
	if ms < 0 {
		return 0, nil
	}

	retryAfter := time.Duration(ms) * time.Millisecond
	if retryAfter < minRetryAfter {
		retryAfter = minRetryAfter
	}
	if retryAfter > windowLength {
		retryAfter = windowLength
	}
	return retryAfter, nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
