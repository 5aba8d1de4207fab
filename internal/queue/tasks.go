package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

var ErrInvalidPayload = errors.New("invalid process payload")

type ProcessImagePayload struct {
	JobID       string                `json:"job_id"`
	SourceType  string                `json:"source_type"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	ObjectKey   string                `json:"object_key"`
	Pipeline    []domain.PipelineStep `json:"pipeline"`
	RequestedAt time.Time             `json:"requested_at"`
}

func (p ProcessImagePayload) validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.ObjectKey) == "" {
		return fmt.Errorf("%w: object_key is required", ErrInvalidPayload)
	}
	if err := domain.ValidatePipeline(p.Pipeline); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

// ParseProcessImagePayload decodes and re-validates a task body, so a worker
// never runs a pipeline the API would have refused.
func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payload.validate(); err != nil {
		return ProcessImagePayload{}, err
	}
	return payload, nil
}
