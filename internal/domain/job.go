package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/imagery/internal/geometry"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

const (
	ActionResize     = "resize"
	ActionCrop       = "crop"
	ActionRotate     = "rotate"
	ActionFlip       = "flip"
	ActionSharpen    = "sharpen"
	ActionWatermark  = "watermark"
	ActionBackground = "background"
)

var ErrInvalidRequest = errors.New("invalid request")

type CreateJobRequest struct {
	SourceType string         `json:"source_type"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	ObjectKey  string         `json:"object_key,omitempty"`
	Pipeline   []PipelineStep `json:"pipeline"`
}

// PipelineStep produces one output image from the job source by applying
// its operations in order.
type PipelineStep struct {
	ID         string      `json:"id"`
	Format     string      `json:"format,omitempty"`
	Quality    int         `json:"quality,omitempty"`
	Operations []Operation `json:"operations"`
}

// Operation carries the raw, possibly partial, parameters of one transform.
// Which fields matter depends on Action. OffsetX and OffsetY center when nil
// and align to the far edge when -1.
type Operation struct {
	Action    string     `json:"action"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	Master    string     `json:"master,omitempty"`
	OffsetX   *int       `json:"offset_x,omitempty"`
	OffsetY   *int       `json:"offset_y,omitempty"`
	Degrees   float64    `json:"degrees,omitempty"`
	Direction string     `json:"direction,omitempty"`
	Amount    int        `json:"amount,omitempty"`
	Color     string     `json:"color,omitempty"`
	Opacity   *int       `json:"opacity,omitempty"`
	Watermark *Watermark `json:"watermark,omitempty"`
}

// Watermark is either a line of text or an encoded image. Image travels as
// base64 in JSON.
type Watermark struct {
	Text    string `json:"text,omitempty"`
	Image   []byte `json:"image,omitempty"`
	Gravity string `json:"gravity,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Pipeline   []PipelineStep
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return fmt.Errorf("%w: source_type is required", ErrInvalidRequest)
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("%w: unsupported source_type: %s", ErrInvalidRequest, r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return fmt.Errorf("%w: object_key is required for source_type=local_file", ErrInvalidRequest)
	}
	return ValidatePipeline(r.Pipeline)
}

func ValidatePipeline(steps []PipelineStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: pipeline must contain at least one step", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("%w: pipeline[%d].id is required", ErrInvalidRequest, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: pipeline[%d].id %q is repeated", ErrInvalidRequest, i, id)
		}
		seen[id] = struct{}{}

		if len(step.Operations) == 0 {
			return fmt.Errorf("%w: pipeline[%d].operations must not be empty", ErrInvalidRequest, i)
		}
		for j, op := range step.Operations {
			if err := op.Validate(); err != nil {
				return fmt.Errorf("pipeline[%d].operations[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// Validate checks that the parameters an action needs are present. Ranges are
// not checked; the geometry resolver clamps them.
func (o Operation) Validate() error {
	switch strings.ToLower(strings.TrimSpace(o.Action)) {
	case ActionResize:
		if o.Width < 0 || o.Height < 0 {
			return fmt.Errorf("%w: resize dimensions must not be negative", ErrInvalidRequest)
		}
		if o.Width == 0 && o.Height == 0 {
			return fmt.Errorf("%w: resize needs width or height", ErrInvalidRequest)
		}
		if _, err := geometry.ParseMaster(o.Master); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	case ActionCrop:
		if o.Width < 0 || o.Height < 0 {
			return fmt.Errorf("%w: crop dimensions must not be negative", ErrInvalidRequest)
		}
	case ActionRotate, ActionSharpen:
	case ActionFlip:
		if _, err := geometry.ParseDirection(o.Direction); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	case ActionBackground:
		if _, err := geometry.ResolveBackground(o.Color, 100); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	case ActionWatermark:
		if o.Watermark == nil {
			return fmt.Errorf("%w: watermark action requires watermark settings", ErrInvalidRequest)
		}
		if strings.TrimSpace(o.Watermark.Text) == "" && len(o.Watermark.Image) == 0 {
			return fmt.Errorf("%w: watermark needs text or image", ErrInvalidRequest)
		}
	case "":
		return fmt.Errorf("%w: action is required", ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, o.Action)
	}
	return nil
}
