package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Image     ImageConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr            string
	PresignTTL      time.Duration
	ShutdownTimeout time.Duration
	UserIDHeader    string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions configures a go-redis client against the queue's Redis.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency     int
	MaxActiveJobs   int
	StepConcurrency int
	LocalOutputDir  string
	OutputPrefix    string
	MetricsAddr     string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type ImageConfig struct {
	// Driver names the transform backend; empty picks the best available.
	Driver string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	Enabled bool
	// Backend is "redis" (shared across API replicas) or "memory".
	Backend  string
	Requests int
	Window   time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:            env("IMAGERY_API_ADDR", ":8080"),
			PresignTTL:      envDuration("IMAGERY_PRESIGN_TTL", 15*time.Minute),
			ShutdownTimeout: envDuration("IMAGERY_SHUTDOWN_TIMEOUT", 10*time.Second),
			UserIDHeader:    env("IMAGERY_USER_ID_HEADER", "X-User-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 5),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 3*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:   envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			StepConcurrency: envInt("WORKER_STEP_CONCURRENCY", 2),
			LocalOutputDir:  env("WORKER_LOCAL_OUTPUT_DIR", "./.imagery-output"),
			OutputPrefix:    env("WORKER_OUTPUT_PREFIX", "outputs"),
			MetricsAddr:     env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "imagery-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Image: ImageConfig{
			Driver: env("IMAGERY_DRIVER", ""),
		},
		Telemetry: TelemetryConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", true),
			Backend:  env("RATE_LIMIT_BACKEND", "redis"),
			Requests: envInt("RATE_LIMIT_REQUESTS", 60),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
