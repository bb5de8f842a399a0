package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a single rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int

	// RetryAfter is the time until the current window rolls over. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// incrWindowScript increments the window counter and stamps its TTL in one
// atomic step, so a crash between the two commands can never leave an
// immortal counter behind.
const incrWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrWindowLua = redis.NewScript(incrWindowScript)

// Limiter enforces fixed-window rate limits keyed by (operation, identity).
// Window boundaries are aligned to floor(now/window), so all limiter
// instances agree on the active window without coordination.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a [Limiter] backed by the given Redis client. now supplies the
// clock and must not be nil in production wiring; nil falls back to time.Now.
func New(client redis.UniversalClient, prefix string, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		redis:  client,
		prefix: prefix,
		now:    now,
	}
}

// Check counts one attempt against the (op, key) budget and returns the
// decision. The count is consumed even when the attempt is later rejected by
// the caller for other reasons; failed operations are exactly what rate
// limits exist to slow down.
func (l *Limiter) Check(ctx context.Context, op, key string, window time.Duration, max int) (Decision, error) {
	if window <= 0 || max <= 0 {
		return Decision{Allowed: true, Remaining: max}, nil
	}

	nowMs := l.now().UnixMilli()
	windowMs := windowMillis(window)
	windowIdx := nowMs / windowMs
	windowEndMs := (windowIdx + 1) * windowMs

	redisKey := l.windowKey(op, key, windowIdx)

	count, err := incrWindowLua.Run(ctx, l.redis, []string{redisKey}, windowEndMs-nowMs).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(max) {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(windowEndMs-nowMs) * time.Millisecond,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: max - int(count),
	}, nil
}

// Peek reports the current window count without consuming an attempt.
// Missing keys return zero and do not reveal identity existence.
func (l *Limiter) Peek(ctx context.Context, op, key string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, nil
	}

	windowIdx := l.now().UnixMilli() / windowMillis(window)
	count, err := l.redis.Get(ctx, l.windowKey(op, key, windowIdx)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the current window for (op, key). Called after a successful
// login so earlier failed attempts stop counting against the caller.
func (l *Limiter) Reset(ctx context.Context, op, key string, window time.Duration) error {
	if window <= 0 {
		return nil
	}

	windowIdx := l.now().UnixMilli() / windowMillis(window)
	if err := l.redis.Del(ctx, l.windowKey(op, key, windowIdx)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// windowMillis clamps the window to at least one millisecond so the index
// division can never hit zero for positive sub-millisecond durations.
func windowMillis(window time.Duration) int64 {
	ms := window.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

func (l *Limiter) windowKey(op, key string, windowIdx int64) string {
	return l.prefix + ":" + op + ":" + key + ":" + strconv.FormatInt(windowIdx, 10)
}
