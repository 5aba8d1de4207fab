package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
)

// MemoryJobStore keeps jobs and usage in process memory. It backs tests and
// single-process runs without Postgres.
type MemoryJobStore struct {
	mu     sync.RWMutex
	jobs   map[string]domain.Job
	usage  map[string][]domain.UsageLog
	billed map[string]struct{}
	now    func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]domain.Job),
		usage:  make(map[string][]domain.UsageLog),
		billed: make(map[string]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[job.ID]; dup {
		return fmt.Errorf("create %s: %w", job.ID, ErrJobExists)
	}
	job.Pipeline = slices.Clone(job.Pipeline)
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	job.Status, job.UpdatedAt = status, s.now()
	s.jobs[id] = job
	return job, nil
}

// CreateUsageLog appends to the owner's ledger, once per job. Unlike Postgres
// there is no foreign key to the jobs table.
func (s *MemoryJobStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.billed[usage.JobID]; dup {
		return fmt.Errorf("usage for %s: %w", usage.JobID, ErrUsageRecorded)
	}
	s.billed[usage.JobID] = struct{}{}
	s.usage[usage.UserID] = append(s.usage[usage.UserID], usage)
	return nil
}

func (s *MemoryJobStore) UsageByUser(_ context.Context, userID string) (domain.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.UsageSummary{UserID: userID}
	for _, u := range s.usage[userID] {
		summary.Add(u)
	}
	return summary, nil
}
