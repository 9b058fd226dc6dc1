package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"followup-escalator/internal/clock"
)

// Options configures a RedisQueue.
type Options struct {
	Name              string
	DLQName           string
	VisibilityTimeout time.Duration
	Clock             clock.Clock
}

// RedisQueue coordinates ready, in-flight, and scheduled job IDs in Redis. Job
// bodies live in the Postgres ledger; Redis only decides who runs what when.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	visibilityTTL time.Duration
	clock         clock.Clock
}

// NewRedisQueue builds a queue on top of an existing client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	name := opts.Name
	if name == "" {
		name = "escalations"
	}
	dlq := opts.DLQName
	if dlq == "" {
		dlq = name + ":dlq"
	}
	visibility := opts.VisibilityTimeout
	if visibility == 0 {
		visibility = 3 * time.Minute
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisQueue{
		client:        client,
		readyKey:      name + ":ready",
		inflightKey:   name + ":inflight",
		scheduledKey:  name + ":scheduled",
		dlqKey:        dlq,
		visibilityTTL: visibility,
		clock:         clk,
	}
}

// Ping checks connectivity for health endpoints.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue inserts a job into either the scheduled set or the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, runAt time.Time) error {
	if runAt.After(q.clock.Now()) {
		return q.Schedule(ctx, jobID, runAt)
	}
	return q.client.RPush(ctx, q.readyKey, jobID).Err()
}

// Schedule places a job into the scheduled set for deferred execution.
func (q *RedisQueue) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID}).Err()
}

// PromoteScheduled moves due scheduled jobs into the ready queue and returns how many moved.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	res, err := moveDueScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey}, now.UnixMilli(), limit).Result()
	if err != nil {
		return 0, err
	}
	ids, err := toStrings(res)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the next ready job and leases it for the visibility timeout.
// It returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := q.clock.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(q.clock.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims leases that timed out and puts them back on the ready queue.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	res, err := moveDueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit).Result()
	if err != nil {
		return nil, err
	}
	return toStrings(res)
}

// Cancel removes a job from every queue structure, the dead-letter list included.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, jobID)
	pipe.LRem(ctx, q.dlqKey, 0, jobID)
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZRem(ctx, q.scheduledKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPush appends to the dead-letter list for operator inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQRemove drops a job from the dead-letter list after retry or purge.
func (q *RedisQueue) DLQRemove(ctx context.Context, jobID string) error {
	return q.client.LRem(ctx, q.dlqKey, 0, jobID).Err()
}

// DLQPeek reads the oldest dead-lettered job IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// Stats reports the size of every queue structure.
type Stats struct {
	Ready     int64 `json:"ready"`
	InFlight  int64 `json:"in_flight"`
	Scheduled int64 `json:"scheduled"`
	Dead      int64 `json:"dead"`
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	inflight := pipe.ZCard(ctx, q.inflightKey)
	scheduled := pipe.ZCard(ctx, q.scheduledKey)
	dead := pipe.LLen(ctx, q.dlqKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{Ready: ready.Val(), InFlight: inflight.Val(), Scheduled: scheduled.Val(), Dead: dead.Val()}, nil
}

func toStrings(res any) ([]string, error) {
	arr, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type from queue script: %T", res)
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected member type from queue script: %T", v)
		}
		out = append(out, s)
	}
	return out, nil
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

// moveDueScript atomically moves members of a zset scored <= now onto a list so
// that two workers never promote or reclaim the same job twice.
var moveDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = {}
for _, id in ipairs(ids) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    table.insert(moved, id)
  end
end
return moved
`)
