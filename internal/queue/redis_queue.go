package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"content-writer/internal/models"
)

// Retention caps keep the completed/failed history bounded.
const (
	keepCompleted = 100
	keepFailed    = 50
)

// Dispatcher hands jobs to the processing side. The implementation is chosen
// at startup: a Redis-backed queue when a broker is configured, a no-op
// otherwise.
type Dispatcher interface {
	// Enqueue schedules the job and returns its id, or "" when no broker is
	// backing the queue.
	Enqueue(ctx context.Context, job models.Job) (string, error)
}

// RedisQueue coordinates ready, in-flight, and scheduled job queues in
// Redis. Keys are namespaced per service so cooperating services can share
// one broker.
type RedisQueue struct {
	client        *redis.Client
	prefix        string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from a Redis URL.
func NewRedisQueue(redisURL, serviceName string, visibility time.Duration) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if visibility == 0 {
		visibility = 2 * time.Minute
	}
	return &RedisQueue{
		client:        redis.NewClient(opts),
		prefix:        serviceName,
		visibilityTTL: visibility,
	}, nil
}

// NewRedisQueueWithClient wires an existing client, used by tests.
func NewRedisQueueWithClient(client *redis.Client, serviceName string, visibility time.Duration) *RedisQueue {
	return &RedisQueue{client: client, prefix: serviceName, visibilityTTL: visibility}
}

func (q *RedisQueue) readyKey() string     { return q.prefix + ":ready" }
func (q *RedisQueue) scheduledKey() string { return q.prefix + ":scheduled" }
func (q *RedisQueue) inflightKey() string  { return q.prefix + ":inflight" }
func (q *RedisQueue) completedKey() string { return q.prefix + ":completed" }
func (q *RedisQueue) failedKey() string    { return q.prefix + ":failed" }
func (q *RedisQueue) metaKey(jobID string) string {
	return q.prefix + ":job:" + jobID
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping reports whether the broker is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue stores the job envelope and pushes it onto the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job models.Job) (string, error) {
	jobID := uuid.New().String()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "task_id", job.TaskID, "tenant_id", job.TenantID, "attempts", 0)
	pipe.RPush(ctx, q.readyKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// LeasedJob is a dequeued job under a visibility lease.
type LeasedJob struct {
	ID       string
	Job      models.Job
	Attempts int
}

// DequeueWithLease pops a ready job and places it into inflight with a
// visibility deadline. Returns nil when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (*LeasedJob, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.inflightKey()},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	meta, err := q.client.HGetAll(ctx, q.metaKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job meta: %w", err)
	}
	if len(meta) == 0 {
		// Orphaned id with no envelope; drop it.
		_ = q.client.ZRem(ctx, q.inflightKey(), jobID).Err()
		return nil, nil
	}
	attempts, _ := strconv.Atoi(meta["attempts"])
	return &LeasedJob{
		ID:       jobID,
		Job:      models.Job{TaskID: meta["task_id"], TenantID: meta["tenant_id"]},
		Attempts: attempts,
	}, nil
}

// Return puts a leased job back at the front of the ready queue without
// counting an attempt, used when the worker is rate limited.
func (q *RedisQueue) Return(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), jobID)
	pipe.LPush(ctx, q.readyKey(), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// AckCompleted removes the job and records it in the completed history.
func (q *RedisQueue) AckCompleted(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	pipe.LPush(ctx, q.completedKey(), jobID)
	pipe.LTrim(ctx, q.completedKey(), 0, keepCompleted-1)
	_, err := pipe.Exec(ctx)
	return err
}

// AckFailed removes the job after its attempts are exhausted and records it
// in the failed history.
func (q *RedisQueue) AckFailed(ctx context.Context, jobID, reason string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	pipe.LPush(ctx, q.failedKey(), jobID+" "+reason)
	pipe.LTrim(ctx, q.failedKey(), 0, keepFailed-1)
	_, err := pipe.Exec(ctx)
	return err
}

// ScheduleRetry moves a leased job into the scheduled set for a deferred
// attempt.
func (q *RedisQueue) ScheduleRetry(ctx context.Context, jobID string, attempts int, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "attempts", attempts)
	pipe.ZRem(ctx, q.inflightKey(), jobID)
	pipe.ZAdd(ctx, q.scheduledKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into the ready queue. It returns
// how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey(), id)
		pipe.RPush(ctx, q.readyKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey(), id)
		pipe.RPush(ctx, q.readyKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey()).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
