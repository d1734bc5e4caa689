package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (s *stubJob) Name() string { return s.name }

func (s *stubJob) Run(context.Context) error {
	s.runs++
	return s.err
}

func TestRegistryStoresJobs(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA)
	registry.Register(nil)
	registry.Register(jobB)
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	// ensure caller cannot mutate internal slice
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestEveryRunsOncePerInterval(t *testing.T) {
	inner := &stubJob{name: "escrow_release"}
	job := Every(inner, time.Hour).(*periodicJob)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if job.Name() != "escrow_release" {
		t.Fatalf("wrapped name = %q", job.Name())
	}
	if !job.Due(now) {
		t.Fatalf("expected never-run job to be due")
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if job.Due(now.Add(59 * time.Minute)) {
		t.Fatalf("expected job to wait for the interval")
	}
	if !job.Due(now.Add(time.Hour)) {
		t.Fatalf("expected job due after the interval")
	}
}

func TestEveryRetriesAfterFailure(t *testing.T) {
	inner := &stubJob{name: "payout_run", err: errors.New("boom")}
	job := Every(inner, time.Hour).(*periodicJob)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if !job.Due(now.Add(time.Minute)) {
		t.Fatalf("failed job should stay due")
	}
}

func TestEveryWithoutIntervalReturnsJob(t *testing.T) {
	inner := &stubJob{name: "x"}
	if Every(inner, 0) != Job(inner) {
		t.Fatalf("expected unwrapped job")
	}
}
