package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"content-writer/internal/auth"
	"content-writer/internal/config"
	"content-writer/internal/httpclient"
	"content-writer/internal/logger"
	"content-writer/internal/queue"
	"content-writer/internal/ratelimit"
	"content-writer/internal/telemetry"
	"content-writer/internal/worker"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if cfg.JWTSecret == "" {
		zl.Fatal("SERVICE_JWT_SECRET is required")
	}
	if cfg.RedisURL == "" {
		zl.Fatal("REDIS_URL is required for the standalone worker")
	}

	q, err := queue.NewRedisQueue(cfg.RedisURL, cfg.ServiceName, cfg.VisibilityTimeout)
	if err != nil {
		zl.Fatal("connect redis", zap.Error(err))
	}
	defer func() { _ = q.Close() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zl.Fatal("parse redis url", zap.Error(err))
	}
	limiterClient := redis.NewClient(opts)
	defer func() { _ = limiterClient.Close() }()
	refill := float64(cfg.WorkerRateCapacity) / cfg.WorkerRateWindow.Seconds()
	limiter := ratelimit.NewTokenBucket(limiterClient, cfg.WorkerRateCapacity, refill, time.Hour)

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.ServiceName, cfg.RootIssuer, cfg.DevAdminSecret)
	client := httpclient.NewWithDefaults(httpclient.Options{
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.HTTPMaxRetries,
		RetryDelay: cfg.HTTPRetryDelay,
	}, zl)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			zl.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	proc := worker.NewProcessor(cfg, q, limiter, tokens, client, zl)
	zl.Info("worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("rate_capacity", cfg.WorkerRateCapacity),
		zap.Duration("rate_window", cfg.WorkerRateWindow))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		zl.Error("worker stopped", zap.Error(err))
	}
}
