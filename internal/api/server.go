package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagery/internal/pipeline"
	"github.com/dunamismax/imagery/internal/queue"
	"github.com/dunamismax/imagery/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxBodyBytes    = 1 << 20
	maxInspectBytes = 64 << 20
)

var errStorageUnavailable = errors.New("object storage is unavailable")

type Server struct {
	logger       *log.Logger
	queueClient  queueEnqueuer
	jobStore     store.JobStore
	usageStore   store.UsageStore
	storage      objectStorage
	presignTTL   time.Duration
	rateLimiter  RateLimiter
	userHeader   string
	capabilities pipeline.Capabilities
	tracer       trace.Tracer
	metrics      *metrics
	mux          *http.ServeMux
	handler      http.Handler
}

// Options carries the optional collaborators of a Server.
type Options struct {
	PresignTTL   time.Duration
	UserIDHeader string
	RateLimiter  RateLimiter
	UsageStore   store.UsageStore
	Capabilities pipeline.Capabilities
	Tracer       trace.Tracer
}

type queueEnqueuer interface {
	EnqueueProcessImage(ctx context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// NewServer wires the HTTP surface. A nil storage makes presigned jobs fail
// at creation while local_file jobs keep working.
func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, opts Options) *Server {
	s := &Server{
		logger:       logger,
		queueClient:  queueClient,
		jobStore:     jobStore,
		usageStore:   opts.UsageStore,
		storage:      storage,
		presignTTL:   opts.PresignTTL,
		rateLimiter:  opts.RateLimiter,
		userHeader:   strings.TrimSpace(opts.UserIDHeader),
		capabilities: opts.Capabilities,
		tracer:       opts.Tracer,
		metrics:      newMetrics(),
		mux:          http.NewServeMux(),
	}
	if s.presignTTL <= 0 {
		s.presignTTL = 15 * time.Minute
	}
	if s.userHeader == "" {
		s.userHeader = "X-User-ID"
	}
	if s.storage == nil {
		s.storage = noStorage{}
	}
	if s.usageStore == nil {
		s.usageStore, _ = jobStore.(store.UsageStore)
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/drivers", s.handleDrivers)
	s.mux.HandleFunc("GET /v1/usage", s.handleUsage)
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /v1/inspect", s.handleInspect)
	s.mux.HandleFunc("POST /v1/plan", s.handlePlan)

	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
	return s
}

type noStorage struct{}

func (noStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (noStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID names the caller for rate limiting and usage. Requests without the
// header share the anonymous bucket.
func (s *Server) userID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.userHeader)); v != "" {
		return v
	}
	return "anonymous"
}

func decodeJSON(r *http.Request, into any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data after object")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
