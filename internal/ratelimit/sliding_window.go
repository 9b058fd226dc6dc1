package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"followup-escalator/internal/clock"
)

// Limiter grants at most a fixed number of permits per rolling window.
type Limiter interface {
	// Allow takes a permit for key if the window has room and reports how
	// many permits remain afterwards.
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// SlidingWindow is a Redis-backed sliding-window log, so every worker process
// shares one budget. Each grant is a sorted-set member scored by its time; a
// grant counts against the window until it is older than the window length.
type SlidingWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
	clock  clock.Clock
}

// NewSlidingWindow allows limit permits in any window-long interval.
func NewSlidingWindow(client *redis.Client, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		client: client,
		limit:  limit,
		window: window,
		clock:  clock.Real{},
	}
}

// WithClock swaps the time source used to stamp and expire grants.
func (w *SlidingWindow) WithClock(c clock.Clock) *SlidingWindow {
	w.clock = c
	return w
}

// Allow records a grant for key if fewer than limit grants fall inside the
// window ending now.
func (w *SlidingWindow) Allow(ctx context.Context, key string) (bool, float64, error) {
	now := w.clock.Now().UnixMilli()
	member := fmt.Sprintf("%d:%s", now, uuid.NewString())
	res, err := windowScript.Run(ctx, w.client, []string{key}, now, w.window.Milliseconds(), w.limit, member).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected sliding window reply: %v", res)
	}
	flag, _ := arr[0].(int64)
	remaining, _ := arr[1].(int64)
	return flag == 1, float64(remaining), nil
}

// Grants at or before now-window have left the window.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, 0}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1}
`)
