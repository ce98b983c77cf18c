package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"content-writer/internal/models"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, "writer-test", time.Minute)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	jobID, err := q.Enqueue(ctx, models.Job{TaskID: "task-1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d err=%v", depth, err)
	}

	leased, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if leased == nil || leased.Job.TaskID != "task-1" || leased.Job.TenantID != "t1" {
		t.Fatalf("unexpected leased job: %+v", leased)
	}
	if leased.Attempts != 0 {
		t.Fatalf("expected 0 attempts, got %d", leased.Attempts)
	}

	// Queue is drained while the job is leased.
	empty, err := q.DequeueWithLease(ctx)
	if err != nil || empty != nil {
		t.Fatalf("expected empty dequeue, got %+v err=%v", empty, err)
	}

	if err := q.AckCompleted(ctx, leased.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestScheduleRetryAndPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	jobID, err := q.Enqueue(ctx, models.Job{TaskID: "task-1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	leased, err := q.DequeueWithLease(ctx)
	if err != nil || leased == nil {
		t.Fatalf("dequeue: %+v err=%v", leased, err)
	}

	runAt := time.Now().Add(5 * time.Second)
	if err := q.ScheduleRetry(ctx, jobID, 1, runAt); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	// Not due yet.
	if n, _ := q.PromoteScheduled(ctx, time.Now(), 10); n != 0 {
		t.Fatalf("expected nothing promoted, got %d", n)
	}

	if n, _ := q.PromoteScheduled(ctx, runAt.Add(time.Second), 10); n != 1 {
		t.Fatalf("expected 1 promoted, got %d", n)
	}

	leased, err = q.DequeueWithLease(ctx)
	if err != nil || leased == nil {
		t.Fatalf("dequeue after promotion: %+v err=%v", leased, err)
	}
	if leased.Attempts != 1 {
		t.Fatalf("expected attempts carried over, got %d", leased.Attempts)
	}
}

func TestRequeueExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if _, err := q.Enqueue(ctx, models.Job{TaskID: "task-1", TenantID: "t1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	leased, err := q.DequeueWithLease(ctx)
	if err != nil || leased == nil {
		t.Fatalf("dequeue: %+v err=%v", leased, err)
	}

	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0] != leased.ID {
		t.Fatalf("expected leased job reclaimed, got %v", reclaimed)
	}

	again, err := q.DequeueWithLease(ctx)
	if err != nil || again == nil || again.ID != leased.ID {
		t.Fatalf("expected job back on ready queue, got %+v err=%v", again, err)
	}
}

func TestReturnDoesNotCountAttempt(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if _, err := q.Enqueue(ctx, models.Job{TaskID: "task-1", TenantID: "t1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	leased, _ := q.DequeueWithLease(ctx)
	if err := q.Return(ctx, leased.ID); err != nil {
		t.Fatalf("return: %v", err)
	}

	again, err := q.DequeueWithLease(ctx)
	if err != nil || again == nil {
		t.Fatalf("dequeue after return: %+v err=%v", again, err)
	}
	if again.Attempts != 0 {
		t.Fatalf("return must not count an attempt, got %d", again.Attempts)
	}
}

func TestFailedHistoryRetention(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for i := 0; i < keepFailed+10; i++ {
		jobID, err := q.Enqueue(ctx, models.Job{TaskID: fmt.Sprintf("task-%d", i), TenantID: "t1"})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		leased, err := q.DequeueWithLease(ctx)
		if err != nil || leased == nil {
			t.Fatalf("dequeue %d: %+v err=%v", i, leased, err)
		}
		if err := q.AckFailed(ctx, jobID, "boom"); err != nil {
			t.Fatalf("ack failed: %v", err)
		}
	}

	n, err := q.client.LLen(ctx, q.failedKey()).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != keepFailed {
		t.Fatalf("expected failed history capped at %d, got %d", keepFailed, n)
	}
}
