package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/imagery/internal/config"
	"github.com/dunamismax/imagery/internal/pipeline"
	"github.com/dunamismax/imagery/internal/storage"
	"github.com/dunamismax/imagery/internal/store"
	"github.com/dunamismax/imagery/internal/telemetry"
	"github.com/dunamismax/imagery/internal/webhook"
	"github.com/dunamismax/imagery/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagery-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	registry := pipeline.NewRegistry(pipeline.DetectCapabilities())
	backend, err := registry.Backend(cfg.Image.Driver)
	if err != nil {
		logger.Fatalf("image driver %q unavailable (have %v): %v", cfg.Image.Driver, registry.Capabilities().Drivers(), err)
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client failed: %v", err)
	}

	// Without a database the worker cannot see API-side job state, so status
	// and usage updates are skipped.
	var (
		jobStore   store.JobStore
		usageStore store.UsageStore
	)
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres job store failed: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatalf("postgres schema failed: %v", err)
		}
		jobStore, usageStore = pg, pg
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, storageClient, webhookClient, jobStore, usageStore, backend)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	defer metricsServer.Close()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d step_concurrency=%d queue=%s redis=%s driver=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Worker.StepConcurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		backend.Name(),
	)

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
