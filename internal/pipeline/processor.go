package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/geometry"
	"golang.org/x/sync/errgroup"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidStepAction     = errors.New("invalid pipeline action")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Pipeline   []domain.PipelineStep
}

type Output struct {
	StepID  string   `json:"step_id"`
	Actions []string `json:"actions"`
	Format  string   `json:"format"`
	Path    string   `json:"path"`
	Bytes   int      `json:"bytes"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Success bool     `json:"success"`
}

type Result struct {
	Outputs      []Output      `json:"outputs"`
	SourceBytes  int           `json:"source_bytes"`
	SourceFormat string        `json:"source_format"`
	SourceSize   geometry.Size `json:"source_size"`
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	backend     Backend
	emitter     Emitter
	concurrency int
}

func NewProcessor(fetcher Fetcher, backend Backend, emitter Emitter) *Processor {
	return &Processor{
		fetcher:     fetcher,
		backend:     backend,
		emitter:     emitter,
		concurrency: runtime.GOMAXPROCS(0),
	}
}

func NewLocalProcessor(outputDir string, backend Backend) *Processor {
	return NewProcessor(LocalFileFetcher{}, backend, LocalFileEmitter{OutputDir: outputDir})
}

// WithStepConcurrency caps how many pipeline steps of one job run at once.
func (p *Processor) WithStepConcurrency(n int) *Processor {
	p.concurrency = max(1, n)
	return p
}

func (p *Processor) Backend() Backend {
	return p.backend
}

// Process fetches the source once and runs every step on its own canvas.
// Outputs keep pipeline order; the first failing step cancels the rest.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Pipeline) == 0 {
		return Result{}, errors.New("pipeline must contain at least one step")
	}

	raw, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	source, err := unwrapSource(raw)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	size, format, err := decodeImageSize(source)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}

	outputs := make([]Output, len(req.Pipeline))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, step := range req.Pipeline {
		g.Go(func() error {
			out, err := p.runStep(gctx, req, step, source)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		Outputs:      outputs,
		SourceBytes:  len(raw),
		SourceFormat: format,
		SourceSize:   size,
	}, nil
}

func (p *Processor) runStep(ctx context.Context, req Request, step domain.PipelineStep, source []byte) (Output, error) {
	canvas, err := p.backend.Open(ctx, source)
	if err != nil {
		return Output{}, fmt.Errorf("transform stage step=%s: %w", step.ID, err)
	}
	defer canvas.Close()

	if err := NewChain(step.Operations...).Apply(ctx, canvas); err != nil {
		return Output{}, fmt.Errorf("transform stage step=%s: %w", step.ID, err)
	}

	format := outputFormat(step.Format, canvas.SourceFormat())
	encoded, err := canvas.Encode(format, step.Quality)
	if err != nil {
		return Output{}, fmt.Errorf("encode stage step=%s: %w", step.ID, err)
	}

	size := canvas.Size()
	written, err := p.emitter.Emit(ctx, req, step, encoded, format, size.Width, size.Height)
	if err != nil {
		return Output{}, fmt.Errorf("emit stage step=%s: %w", step.ID, err)
	}
	return written, nil
}

func stepActions(step domain.PipelineStep) []string {
	actions := make([]string, 0, len(step.Operations))
	for _, op := range step.Operations {
		actions = append(actions, strings.ToLower(strings.TrimSpace(op.Action)))
	}
	return actions
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, step domain.PipelineStep, data []byte, format string, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return Output{}, errors.New("pipeline step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	filename := fmt.Sprintf("%s.%s", sanitizePathToken(step.ID), normalizeOutputFormat(format))
	fullPath := filepath.Join(jobDir, filename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		StepID:  step.ID,
		Actions: stepActions(step),
		Format:  normalizeOutputFormat(format),
		Path:    fullPath,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
