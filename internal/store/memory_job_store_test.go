package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/imagery/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	var _ JobStore = s
	var _ UsageStore = s

	job := domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusCreated, CreatedAt: time.Now().UTC()}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := s.Create(ctx, job); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists on duplicate create, got %v", err)
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get job ok=%v err=%v", ok, err)
	}
	if got.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", got.UserID)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.JobStatusQueued || updated.UpdatedAt.IsZero() {
		t.Fatalf("unexpected updated job %+v", updated)
	}

	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusFailed); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing job to be absent")
	}
}

func TestMemoryJobStoreUsageSummary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	for _, u := range []domain.UsageLog{
		{UserID: "a", JobID: "1", PixelsProcessed: 100, BytesSaved: 10, ComputeTimeMS: 5},
		{UserID: "a", JobID: "2", PixelsProcessed: 50, BytesSaved: 0, ComputeTimeMS: 7},
		{UserID: "b", JobID: "3", PixelsProcessed: 1, BytesSaved: 1, ComputeTimeMS: 1},
	} {
		if err := s.CreateUsageLog(ctx, u); err != nil {
			t.Fatalf("create usage: %v", err)
		}
	}

	summary, err := s.UsageByUser(ctx, "a")
	if err != nil {
		t.Fatalf("usage by user: %v", err)
	}
	want := domain.UsageSummary{UserID: "a", Jobs: 2, PixelsProcessed: 150, BytesSaved: 10, ComputeTimeMS: 12}
	if summary != want {
		t.Fatalf("expected %+v, got %+v", want, summary)
	}
}

func TestMemoryJobStoreUsageOncePerJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	usage := domain.UsageLog{UserID: "a", JobID: "1", PixelsProcessed: 100, ComputeTimeMS: 5}
	if err := s.CreateUsageLog(ctx, usage); err != nil {
		t.Fatalf("create usage: %v", err)
	}
	if err := s.CreateUsageLog(ctx, usage); !errors.Is(err, ErrUsageRecorded) {
		t.Fatalf("expected ErrUsageRecorded, got %v", err)
	}

	summary, err := s.UsageByUser(ctx, "a")
	if err != nil {
		t.Fatalf("usage by user: %v", err)
	}
	if summary.Jobs != 1 || summary.PixelsProcessed != 100 {
		t.Fatalf("expected a single billed job, got %+v", summary)
	}
}
