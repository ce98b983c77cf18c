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

	"content-writer/internal/api"
	"content-writer/internal/auth"
	"content-writer/internal/config"
	"content-writer/internal/gateway"
	"content-writer/internal/httpclient"
	"content-writer/internal/logger"
	"content-writer/internal/queue"
	"content-writer/internal/ratelimit"
	"content-writer/internal/store"
	"content-writer/internal/worker"
	"content-writer/internal/writer"
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

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		zl.Fatal("migrations", zap.Error(err))
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.ServiceName, cfg.RootIssuer, cfg.DevAdminSecret)
	guard := auth.NewTenantGuard(cfg.RootIssuer)
	client := httpclient.NewWithDefaults(httpclient.Options{
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.HTTPMaxRetries,
		RetryDelay: cfg.HTTPRetryDelay,
	}, zl)

	llm, err := gateway.NewLLMGateway(client, tokens, cfg.LLMHubURL, cfg.TenantBrainURL, cfg.LLMModel, cfg.ProfileCacheTTL, zl)
	if err != nil {
		zl.Fatal("init llm gateway", zap.Error(err))
	}
	defer llm.Close()
	insights := gateway.NewInsightsGateway(client, tokens, cfg.InsightsURL, zl)
	events := gateway.NewEventsGateway(client, tokens, cfg.EventsURL, zl)

	var dispatcher queue.Dispatcher = queue.NoopDispatcher{}
	var redisQueue *queue.RedisQueue
	if cfg.RedisURL != "" {
		redisQueue, err = queue.NewRedisQueue(cfg.RedisURL, cfg.ServiceName, cfg.VisibilityTimeout)
		if err != nil {
			zl.Fatal("connect redis", zap.Error(err))
		}
		defer func() { _ = redisQueue.Close() }()
		dispatcher = redisQueue
	}

	svc := writer.New(st, dispatcher, llm, insights, events, zl)
	server := api.New(cfg, svc, tokens, guard, insights, st, zl)

	// The worker runs in-process when a broker is configured; a standalone
	// worker binary exists for scaling out.
	if redisQueue != nil {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zl.Fatal("parse redis url", zap.Error(err))
		}
		limiterClient := redis.NewClient(opts)
		defer func() { _ = limiterClient.Close() }()
		refill := float64(cfg.WorkerRateCapacity) / cfg.WorkerRateWindow.Seconds()
		limiter := ratelimit.NewTokenBucket(limiterClient, cfg.WorkerRateCapacity, refill, time.Hour)

		proc := worker.NewProcessor(cfg, redisQueue, limiter, tokens, client, zl.Named("worker"))
		go func() {
			if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
				zl.Error("worker stopped", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}
	zl.Info("api listening",
		zap.String("port", cfg.HTTPPort),
		zap.String("service", cfg.ServiceName),
		zap.String("root_issuer", cfg.RootIssuer),
		zap.Bool("queue", redisQueue != nil))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
