package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/pipeline"
	"github.com/dunamismax/imagery/internal/queue"
	"github.com/dunamismax/imagery/internal/store"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
)

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "input.png",
		Pipeline: []domain.PipelineStep{{
			ID:         "thumb",
			Operations: []domain.Operation{{Action: domain.ActionResize, Width: 100}},
		}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-1", pipeline.Result{
		SourceBytes: 1_000,
		Outputs: []pipeline.Output{
			{Width: 10, Height: 10, Bytes: 300},
			{Width: 20, Height: 20, Bytes: 400},
		},
	}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usageStore.log.UserID)
	}
	if usageStore.log.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usageStore.log.PixelsProcessed)
	}
	if usageStore.log.BytesSaved != 300 {
		t.Fatalf("expected bytes_saved=300, got %d", usageStore.log.BytesSaved)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageClampsNegativeBytesSaved(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", pipeline.Result{
		SourceBytes: 100,
		Outputs: []pipeline.Output{
			{Width: 5, Height: 5, Bytes: 200},
		},
	}, 0)

	if usageStore.log.BytesSaved != 0 {
		t.Fatalf("expected bytes_saved=0, got %d", usageStore.log.BytesSaved)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestHandleProcessImageLocalJob(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	writePNG(t, input, 64, 32)

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-local", input)

	hooks := &captureWebhook{}
	s := newLocalServer(t, filepath.Join(tmp, "out"), jobs, hooks)

	task := newTask(t, queue.ProcessImagePayload{
		JobID:      "job-local",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.test/imagery",
		ObjectKey:  input,
		Pipeline: []domain.PipelineStep{{
			ID:     "half",
			Format: "png",
			Operations: []domain.Operation{
				{Action: domain.ActionResize, Width: 32},
				{Action: domain.ActionRotate, Degrees: 90},
			},
		}},
	})

	if err := s.handleProcessImage(context.Background(), task); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-local")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded job, got %s", job.Status)
	}
	if hooks.event != "job.completed" {
		t.Fatalf("expected job.completed webhook, got %q", hooks.event)
	}
	outputs := hooks.body.Outputs
	if len(outputs) != 1 {
		t.Fatalf("expected one output in webhook body, got %+v", hooks.body)
	}
	if src := hooks.body.Source; src == nil || src.Width != 64 || src.Height != 32 || src.Format != "png" {
		t.Fatalf("expected 64x32 png source, got %+v", src)
	}
	if outputs[0].Width != 16 || outputs[0].Height != 32 {
		t.Fatalf("expected 16x32 output, got %dx%d", outputs[0].Width, outputs[0].Height)
	}

	summary, err := jobs.UsageByUser(context.Background(), "user-9")
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.Jobs != 1 || summary.PixelsProcessed != 16*32 {
		t.Fatalf("unexpected usage summary %+v", summary)
	}
}

func TestHandleProcessImageRetryAfterWebhookFailureBillsOnce(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "input.png")
	writePNG(t, input, 64, 32)

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-retry", input)

	s := newLocalServer(t, filepath.Join(tmp, "out"), jobs, failingWebhook{})
	task := newTask(t, queue.ProcessImagePayload{
		JobID:      "job-retry",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.test/imagery",
		ObjectKey:  input,
		Pipeline: []domain.PipelineStep{{
			ID:         "half",
			Format:     "png",
			Operations: []domain.Operation{{Action: domain.ActionResize, Width: 32}},
		}},
	})

	for attempt := range 2 {
		if err := s.handleProcessImage(context.Background(), task); err == nil {
			t.Fatalf("attempt %d: expected webhook error", attempt)
		}
	}

	summary, err := jobs.UsageByUser(context.Background(), "user-9")
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.Jobs != 1 || summary.PixelsProcessed != 32*16 {
		t.Fatalf("expected one usage row after retry, got %+v", summary)
	}
	if got := testutil.ToFloat64(s.metrics.pixelsProcessedTotal); got != 32*16 {
		t.Fatalf("expected pixels counted once, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.webhookFailures.WithLabelValues(eventCompleted)); got != 2 {
		t.Fatalf("expected two webhook failures, got %v", got)
	}
}

func TestHandleProcessImageFailureMarksJobFailed(t *testing.T) {
	tmp := t.TempDir()
	jobs := store.NewMemoryJobStore()
	missing := filepath.Join(tmp, "missing.png")
	seedJob(t, jobs, "job-missing", missing)

	hooks := &captureWebhook{}
	s := newLocalServer(t, filepath.Join(tmp, "out"), jobs, hooks)

	task := newTask(t, queue.ProcessImagePayload{
		JobID:      "job-missing",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "https://hooks.test/imagery",
		ObjectKey:  missing,
		Pipeline: []domain.PipelineStep{{
			ID:         "x",
			Operations: []domain.Operation{{Action: domain.ActionFlip, Direction: "vertical"}},
		}},
	})

	if err := s.handleProcessImage(context.Background(), task); err == nil {
		t.Fatal("expected error for missing source")
	}
	job, _, _ := jobs.Get(context.Background(), "job-missing")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", job.Status)
	}
	if hooks.event != "job.failed" {
		t.Fatalf("expected job.failed webhook, got %q", hooks.event)
	}
	if hooks.body.Status != domain.JobStatusFailed || hooks.body.Error == "" {
		t.Fatalf("expected failure details in webhook body, got %+v", hooks.body)
	}
}

func TestHandleProcessImageSkipsRetryOnBadPayload(t *testing.T) {
	s := &Server{logger: log.New(io.Discard, "", 0), metrics: newMetrics()}
	err := s.handleProcessImage(context.Background(), asynq.NewTask(queue.TypeProcessImage, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleTaskErrorCountsFinalFailures(t *testing.T) {
	s := &Server{logger: log.New(io.Discard, "", 0), metrics: newMetrics()}
	s.handleTaskError(context.Background(), asynq.NewTask(queue.TypeProcessImage, nil), errors.New("boom"))

	if got := testutil.ToFloat64(s.metrics.taskErrors.WithLabelValues(queue.TypeProcessImage, "true")); got != 1 {
		t.Fatalf("expected one final task error, got %v", got)
	}
}

func newLocalServer(t *testing.T, outputDir string, jobs *store.MemoryJobStore, hooks webhookSender) *Server {
	t.Helper()
	backend, err := pipeline.NewRegistry(pipeline.DetectCapabilities()).Backend(pipeline.DriverImaging)
	if err != nil {
		t.Fatalf("imaging backend: %v", err)
	}
	return &Server{
		logger:         log.New(io.Discard, "", 0),
		driver:         backend.Name(),
		sem:            make(chan struct{}, 1),
		localProcessor: pipeline.NewLocalProcessor(outputDir, backend),
		webhookClient:  hooks,
		jobStore:       jobs,
		usageStore:     jobs,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("imagery/worker-test"),
	}
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, id, objectKey string) {
	t.Helper()
	now := time.Now().UTC()
	if err := jobs.Create(context.Background(), domain.Job{
		ID:         id,
		UserID:     "user-9",
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func newTask(t *testing.T, payload queue.ProcessImagePayload) *asynq.Task {
	t.Helper()
	payload.RequestedAt = time.Now().UTC()
	task, err := queue.NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

type captureWebhook struct {
	event string
	body  jobEvent
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.event = event
	c.body, _ = payload.(jobEvent)
	return nil
}

type failingWebhook struct{}

func (failingWebhook) Send(context.Context, string, string, any) error {
	return errors.New("receiver unavailable")
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

func (s *captureUsageStore) UsageByUser(_ context.Context, userID string) (domain.UsageSummary, error) {
	return domain.UsageSummary{UserID: userID}, nil
}
