package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagery/internal/config"
	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/pipeline"
	"github.com/dunamismax/imagery/internal/queue"
	"github.com/dunamismax/imagery/internal/storage"
	"github.com/dunamismax/imagery/internal/store"
	"github.com/dunamismax/imagery/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	eventCompleted = "job.completed"
	eventFailed    = "job.failed"
)

type Server struct {
	logger          *log.Logger
	driver          string
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// jobEvent is the webhook body for both terminal events.
type jobEvent struct {
	JobID       string            `json:"job_id"`
	Status      string            `json:"status"`
	SourceType  string            `json:"source_type"`
	ObjectKey   string            `json:"object_key"`
	Driver      string            `json:"driver"`
	RequestedAt time.Time         `json:"requested_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Source      *sourceInfo       `json:"source,omitempty"`
	Outputs     []pipeline.Output `json:"outputs,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type sourceInfo struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
	backend pipeline.Backend,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("image backend is required")
	}
	if usageStore == nil {
		usageStore, _ = jobStore.(store.UsageStore)
	}

	s := &Server{
		logger: logger,
		driver: backend.Name(),
		sem:    make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor: pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, backend).
			WithStepConcurrency(workerCfg.StepConcurrency),
		objectProcessor: pipeline.NewObjectStoreProcessor(storageClient, workerCfg.OutputPrefix, backend).
			WithStepConcurrency(workerCfg.StepConcurrency),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("imagery/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	s.server = asynq.NewServer(queueCfg.RedisClientOpt(), asynq.Config{
		Concurrency:  workerCfg.Concurrency,
		Queues:       map[string]int{queueCfg.Name: 1},
		LogLevel:     asynq.InfoLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(s.handleTaskError),
	})
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessImage, s.handleProcessImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTaskError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	final := retried >= maxRetry
	s.metrics.taskErrors.WithLabelValues(task.Type(), fmt.Sprint(final)).Inc()
	s.logger.Printf("task failed type=%s retry=%d/%d final=%t err=%v", task.Type(), retried, maxRetry, final, err)
}

func (s *Server) processorFor(sourceType string) *pipeline.Processor {
	if strings.EqualFold(sourceType, domain.SourceTypeLocalFile) {
		return s.localProcessor
	}
	return s.objectProcessor
}

func (s *Server) handleProcessImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseProcessImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_image", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.pipeline_steps", len(payload.Pipeline)),
		attribute.String("image.driver", s.driver),
	)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	startedAt := time.Now()
	status := domain.JobStatusFailed
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, status).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, s.driver, status).Inc()
	}()

	s.logger.Printf("processing job_id=%s source_type=%s steps=%d object_key=%s driver=%s",
		payload.JobID, payload.SourceType, len(payload.Pipeline), payload.ObjectKey, s.driver)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.processorFor(payload.SourceType).Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Pipeline:   payload.Pipeline,
	})
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		event := s.newEvent(payload, domain.JobStatusFailed)
		event.Error = err.Error()
		_ = s.dispatchWebhook(ctx, payload, eventFailed, event)
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.logger.Printf("processed job_id=%s source=%s %dx%d outputs=%d",
		payload.JobID, result.SourceFormat, result.SourceSize.Width, result.SourceSize.Height, len(result.Outputs))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	for _, output := range result.Outputs {
		s.metrics.pipelineOutputsTotal.WithLabelValues(output.Format).Inc()
	}
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	event := s.newEvent(payload, domain.JobStatusSucceeded)
	event.Outputs = result.Outputs
	event.Source = &sourceInfo{
		Format: result.SourceFormat,
		Width:  result.SourceSize.Width,
		Height: result.SourceSize.Height,
		Bytes:  result.SourceBytes,
	}
	if err := s.dispatchWebhook(ctx, payload, eventCompleted, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	status = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) newEvent(payload queue.ProcessImagePayload, status string) jobEvent {
	return jobEvent{
		JobID:       payload.JobID,
		Status:      status,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		Driver:      s.driver,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
	}
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessImagePayload, event string, body jobEvent) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

// recordUsage bills the job's owner for output pixels and bytes saved
// against the source. Compute time is at least 1 ms.
func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, elapsed time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		switch {
		case err != nil:
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		case ok && strings.TrimSpace(job.UserID) != "":
			userID = job.UserID
		}
	}

	var pixels, outBytes int64
	for _, output := range result.Outputs {
		pixels += int64(output.Width) * int64(output.Height)
		outBytes += int64(output.Bytes)
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: pixels,
		BytesSaved:      max(int64(result.SourceBytes)-outBytes, 0),
		ComputeTimeMS:   max(elapsed.Milliseconds(), 1),
		CreatedAt:       time.Now().UTC(),
	}
	err := s.usageStore.CreateUsageLog(ctx, usage)
	switch {
	case errors.Is(err, store.ErrUsageRecorded):
		s.logger.Printf("usage already recorded job_id=%s", jobID)
		return
	case err != nil:
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
