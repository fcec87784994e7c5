package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/rapiddecoder/internal/domain"
)

func TestMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	created := time.Now().UTC().Add(-time.Minute)
	if err := s.Create(ctx, domain.Job{ID: "job-1", Status: domain.JobStatusCreated, CreatedAt: created, UpdatedAt: created}); err != nil {
		t.Fatalf("create: %v", err)
	}

	job, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("expected job-1, got ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusCreated {
		t.Fatalf("expected status %s, got %s", domain.JobStatusCreated, job.Status)
	}

	updated, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.JobStatusQueued || !updated.UpdatedAt.After(created) {
		t.Fatalf("expected queued job with fresh updated_at, got %+v", updated)
	}

	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing job lookup to report not found")
	}
}

func TestMemoryUsageStore(t *testing.T) {
	s := NewMemoryJobStore()
	var usageStore UsageStore = s

	if err := usageStore.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "job-1", PixelsProcessed: 100}); err != nil {
		t.Fatalf("create usage log: %v", err)
	}

	logs := s.UsageLogs()
	if len(logs) != 1 || logs[0].PixelsProcessed != 100 {
		t.Fatalf("expected one usage log with 100 pixels, got %+v", logs)
	}
	logs[0].JobID = "mutated"
	if s.UsageLogs()[0].JobID != "job-1" {
		t.Fatal("expected UsageLogs to return a copy")
	}
}

func TestOpenWithoutDSNUsesMemoryStore(t *testing.T) {
	s, closeStore, err := Open(context.Background(), "  ")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer closeStore()

	if _, ok := s.(*MemoryJobStore); !ok {
		t.Fatalf("expected *MemoryJobStore, got %T", s)
	}
}
