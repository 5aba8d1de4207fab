package config

import (
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("IMAGERY_API_ADDR", ":9999")
	t.Setenv("IMAGERY_DRIVER", "imaging")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("WORKER_STEP_CONCURRENCY", "4")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.1")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")

	cfg := Load()
	if cfg.API.Addr != ":9999" {
		t.Fatalf("expected api addr :9999, got %s", cfg.API.Addr)
	}
	if cfg.Image.Driver != "imaging" {
		t.Fatalf("expected imaging driver, got %q", cfg.Image.Driver)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Worker.StepConcurrency != 4 {
		t.Fatalf("expected step concurrency 4, got %d", cfg.Worker.StepConcurrency)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected MINIO_USE_SSL to be honored")
	}
	if cfg.Telemetry.SampleRatio != 0.1 {
		t.Fatalf("expected sample ratio 0.1, got %v", cfg.Telemetry.SampleRatio)
	}
	if cfg.RateLimit.Backend != "memory" {
		t.Fatalf("expected memory rate limit backend, got %q", cfg.RateLimit.Backend)
	}
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("WEBHOOK_TIMEOUT", "-5s")
	t.Setenv("RATE_LIMIT_ENABLED", "maybe")

	cfg := Load()
	if cfg.Queue.RedisDB != 0 {
		t.Fatalf("expected redis db fallback 0, got %d", cfg.Queue.RedisDB)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Fatalf("expected webhook timeout fallback, got %s", cfg.Webhook.Timeout)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatal("expected rate limit enabled fallback")
	}
}
