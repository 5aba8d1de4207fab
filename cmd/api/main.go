package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imagery/internal/api"
	"github.com/dunamismax/imagery/internal/config"
	"github.com/dunamismax/imagery/internal/pipeline"
	"github.com/dunamismax/imagery/internal/queue"
	"github.com/dunamismax/imagery/internal/ratelimit"
	"github.com/dunamismax/imagery/internal/storage"
	"github.com/dunamismax/imagery/internal/store"
	"github.com/dunamismax/imagery/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagery-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer flush(logger, "tracing", shutdownTracing)

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
	defer closeStore()

	opts := api.Options{
		PresignTTL:   cfg.API.PresignTTL,
		UserIDHeader: cfg.API.UserIDHeader,
		Capabilities: pipeline.DetectCapabilities(),
		Tracer:       otel.Tracer("imagery/api"),
	}
	if limiter := newRateLimiter(cfg, logger); limiter != nil {
		opts.RateLimiter = limiter
	}

	objectStorage, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	var app *api.Server
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
		app = api.NewServer(logger, queueClient, jobStore, nil, opts)
	} else {
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			logger.Printf("ensure bucket failed bucket=%s err=%v", objectStorage.Bucket(), err)
		}
		app = api.NewServer(logger, queueClient, jobStore, objectStorage, opts)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s drivers=%v", cfg.API.Addr, opts.Capabilities.Drivers())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

// openJobStore uses Postgres when a DSN is configured and memory otherwise.
func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("job store=memory")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres job store failed: %v", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatalf("postgres schema failed: %v", err)
	}
	logger.Printf("job store=postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}

func newRateLimiter(cfg config.Config, logger *log.Logger) api.RateLimiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	if cfg.RateLimit.Backend == "memory" {
		limiter, err := ratelimit.NewLocalLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			logger.Printf("rate limiting disabled: %v", err)
			return nil
		}
		return limiter
	}

	limiter, err := ratelimit.NewRedisTokenBucket(
		redis.NewClient(cfg.Queue.RedisOptions()),
		cfg.RateLimit.Requests,
		cfg.RateLimit.Window,
		"",
	)
	if err != nil {
		logger.Printf("rate limiting disabled: %v", err)
		return nil
	}
	return limiter
}

func flush(logger *log.Logger, what string, fn telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Printf("%s shutdown error: %v", what, err)
	}
}
