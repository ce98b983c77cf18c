package worker

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"content-writer/internal/config"
	"content-writer/internal/httpclient"
	"content-writer/internal/queue"
	"content-writer/internal/telemetry"
)

// runTimeout bounds one run invocation; generation regularly takes most of
// a minute, so this is far above the client default.
const runTimeout = 90 * time.Second

// JobQueue is the consumer side of the task queue.
type JobQueue interface {
	DequeueWithLease(ctx context.Context) (*queue.LeasedJob, error)
	Return(ctx context.Context, jobID string) error
	AckCompleted(ctx context.Context, jobID string) error
	AckFailed(ctx context.Context, jobID, reason string) error
	ScheduleRetry(ctx context.Context, jobID string, attempts int, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Limiter caps how many jobs may start per window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// TokenIssuer mints the service token attached to run calls.
type TokenIssuer interface {
	IssueInternalToken(subject string) (string, error)
}

// Processor consumes jobs and drives each task through the same
// /v1/write/run path a direct caller would use, so queued and synchronous
// execution cannot diverge. Concurrency is bounded and job starts are rate
// limited because the generation service downstream is the bottleneck.
type Processor struct {
	cfg     config.Config
	queue   JobQueue
	limiter Limiter
	tokens  TokenIssuer
	client  *httpclient.Client
	sem     *semaphore.Weighted
	log     *zap.Logger
}

// NewProcessor wires a worker.
func NewProcessor(cfg config.Config, q JobQueue, limiter Limiter, tokens TokenIssuer, client *httpclient.Client, log *zap.Logger) *Processor {
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}
	if cfg.JobBackoffInitial <= 0 {
		cfg.JobBackoffInitial = 5 * time.Second
	}
	return &Processor{
		cfg:     cfg,
		queue:   q,
		limiter: limiter,
		tokens:  tokens,
		client:  client,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		log:     log,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), 100)
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			p.log.Warn("reclaimed expired job leases", zap.Int("count", len(reclaimed)))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		leased, err := p.queue.DequeueWithLease(ctx)
		if err != nil || leased == nil {
			if err != nil {
				p.log.Warn("dequeue failed", zap.Error(err))
			}
			p.sleep(ctx)
			continue
		}

		if p.limiter != nil {
			allowed, _, err := p.limiter.Allow(ctx, p.cfg.ServiceName+":worker:starts")
			if err != nil || !allowed {
				telemetry.RateLimitWaits.Inc()
				_ = p.queue.Return(ctx, leased.ID)
				p.sleep(ctx)
				continue
			}
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			_ = p.queue.Return(ctx, leased.ID)
			return err
		}
		telemetry.InFlightGauge.Inc()
		go func(job queue.LeasedJob) {
			defer p.sem.Release(1)
			defer telemetry.InFlightGauge.Dec()
			p.process(ctx, job)
		}(*leased)
	}
}

func (p *Processor) process(ctx context.Context, leased queue.LeasedJob) {
	log := p.log.With(
		zap.String("job_id", leased.ID),
		zap.String("task_id", leased.Job.TaskID),
		zap.String("tenant_id", leased.Job.TenantID))
	log.Info("processing write job")

	err := p.runTask(ctx, leased.Job.TaskID)
	if err == nil {
		_ = p.queue.AckCompleted(ctx, leased.ID)
		telemetry.JobsCompleted.Inc()
		log.Info("write job completed")
		return
	}

	attempts := leased.Attempts + 1
	if attempts >= p.cfg.JobMaxAttempts {
		// Attempts exhausted: the task keeps whatever status the last run
		// attempt left (typically still queued). Never marked done.
		_ = p.queue.AckFailed(ctx, leased.ID, err.Error())
		telemetry.JobsExhausted.Inc()
		log.Error("write job failed permanently", zap.Int("attempts", attempts), zap.Error(err))
		return
	}

	backoff := time.Duration(float64(p.cfg.JobBackoffInitial) * math.Pow(2, float64(attempts-1)))
	if err := p.queue.ScheduleRetry(ctx, leased.ID, attempts, time.Now().Add(backoff)); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
		return
	}
	telemetry.JobsRetried.Inc()
	log.Warn("write job failed, retry scheduled",
		zap.Int("attempts", attempts),
		zap.Duration("backoff", backoff),
		zap.Error(err))
}

// runTask invokes this service's own run endpoint, the exact path a direct
// caller takes.
func (p *Processor) runTask(ctx context.Context, taskID string) error {
	token, err := p.tokens.IssueInternalToken("")
	if err != nil {
		return err
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err = p.client.Post(ctx, p.cfg.SelfURL+"/v1/write/run",
		map[string]string{"taskId": taskID},
		map[string]string{"Authorization": "Bearer " + token},
		&resp, httpclient.Options{Timeout: runTimeout})
	if err != nil {
		return err
	}
	p.log.Info("run completed", zap.String("task_id", taskID), zap.String("status", resp.Status))
	return nil
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.WorkerPollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
