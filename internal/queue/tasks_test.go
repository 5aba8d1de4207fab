package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/hibiken/asynq"
)

func TestProcessImageTaskRoundTrip(t *testing.T) {
	offset := 4
	payload := ProcessImagePayload{
		JobID:      "job-123",
		SourceType: "s3_presigned",
		ObjectKey:  "uploads/job-123/source",
		Pipeline: []domain.PipelineStep{
			{
				ID:     "thumb_small",
				Format: "webp",
				Operations: []domain.Operation{
					{Action: domain.ActionResize, Width: 160, Master: "auto"},
					{Action: domain.ActionCrop, Width: 120, Height: 120, OffsetX: &offset},
				},
			},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("NewProcessImageTask returned error: %v", err)
	}
	if task.Type() != TypeProcessImage {
		t.Fatalf("expected task type %q, got %q", TypeProcessImage, task.Type())
	}

	parsed, err := ParseProcessImagePayload(task)
	if err != nil {
		t.Fatalf("ParseProcessImagePayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if len(parsed.Pipeline) != 1 || len(parsed.Pipeline[0].Operations) != 2 {
		t.Fatalf("expected one step with two operations, got %+v", parsed.Pipeline)
	}
	crop := parsed.Pipeline[0].Operations[1]
	if crop.OffsetX == nil || *crop.OffsetX != 4 || crop.OffsetY != nil {
		t.Fatalf("expected explicit offset_x only, got x=%v y=%v", crop.OffsetX, crop.OffsetY)
	}
}

func TestParseProcessImagePayloadRejectsGarbage(t *testing.T) {
	_, err := ParseProcessImagePayload(asynq.NewTask(TypeProcessImage, []byte("{")))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for malformed payload, got %v", err)
	}
}

func TestClientOptionsFallBackToDefaults(t *testing.T) {
	c := &Client{queue: "images"}
	c2 := NewClient(asynq.RedisClientOpt{Addr: "localhost:0"}, "images", -1, 0)
	defer c2.Close()

	if c2.maxRetry != 0 || c2.timeout != 3*time.Minute {
		t.Fatalf("expected clamped retry and default timeout, got %d %s", c2.maxRetry, c2.timeout)
	}
	if got := len(c.options()); got != 3 {
		t.Fatalf("expected three enqueue options, got %d", got)
	}
}

func TestNewProcessImageTaskRejectsInvalidPipeline(t *testing.T) {
	_, err := NewProcessImageTask(ProcessImagePayload{
		JobID:     "job-1",
		ObjectKey: "uploads/job-1/source",
		Pipeline: []domain.PipelineStep{
			{ID: "a", Operations: []domain.Operation{{Action: domain.ActionSharpen, Amount: 20}}},
			{ID: "a", Operations: []domain.Operation{{Action: domain.ActionSharpen, Amount: 20}}},
		},
	})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for duplicate step ids, got %v", err)
	}
}
