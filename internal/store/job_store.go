package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imagery/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")

	// ErrUsageRecorded reports that the job already has its usage row.
	ErrUsageRecorded = errors.New("usage already recorded for job")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
}

// UsageStore keeps at most one usage row per job, so a retried task cannot
// bill twice.
type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
	UsageByUser(ctx context.Context, userID string) (domain.UsageSummary, error)
}
