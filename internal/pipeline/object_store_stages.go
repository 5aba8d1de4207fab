package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/storage"
)

// ObjectStorage is the slice of the bucket client the object store stages
// need. *storage.Client satisfies it.
type ObjectStorage interface {
	ReadObject(ctx context.Context, objectKey string, limit int64) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, obj storage.Object) error
}

// NewObjectStoreProcessor reads presigned uploads from the bucket and writes
// each step's output to <prefix>/<job>/<step>.<ext> in the same bucket.
func NewObjectStoreProcessor(bucket ObjectStorage, outputPrefix string, backend Backend) *Processor {
	stage := &objectStoreStage{bucket: bucket, prefix: strings.Trim(strings.TrimSpace(outputPrefix), "/")}
	if stage.prefix == "" {
		stage.prefix = "outputs"
	}
	return NewProcessor(stage, backend, stage)
}

type objectStoreStage struct {
	bucket ObjectStorage
	prefix string
}

func (s *objectStoreStage) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if s.bucket == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return s.bucket.ReadObject(ctx, req.ObjectKey, maxSourceBytes)
}

func (s *objectStoreStage) Emit(ctx context.Context, req Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error) {
	if s.bucket == nil {
		return Output{}, errors.New("storage client is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	ext := normalizeOutputFormat(format)
	key := s.outputKey(req.JobID, step.ID, ext)
	obj := storage.Object{
		Data:        data,
		ContentType: contentTypeForFormat(format),
		Metadata: map[string]string{
			"job-id":  req.JobID,
			"step-id": step.ID,
			"width":   strconv.Itoa(width),
			"height":  strconv.Itoa(height),
		},
	}
	if err := s.bucket.WriteObject(ctx, key, obj); err != nil {
		return Output{}, fmt.Errorf("upload %s: %w", key, err)
	}

	return Output{
		StepID:  step.ID,
		Actions: stepActions(step),
		Format:  ext,
		Path:    key,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func (s *objectStoreStage) outputKey(jobID, stepID, ext string) string {
	return path.Join(s.prefix, sanitizePathToken(jobID), sanitizePathToken(stepID)+"."+ext)
}
