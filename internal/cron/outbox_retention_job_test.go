package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/logger"
)

type fakeOutboxPurger struct {
	results     []int64
	cutoff      time.Time
	maxAttempts int
	limit       int
	calls       int
	err         error
}

func (f *fakeOutboxPurger) PurgeBefore(_ *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error) {
	f.calls++
	f.cutoff, f.maxAttempts, f.limit = cutoff, terminalAttempts, limit
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

type fakeDLQPurger struct {
	cutoff time.Time
	calls  int
}

func (f *fakeDLQPurger) PurgeBefore(_ *gorm.DB, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 3, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newRetentionJob(t *testing.T, params OutboxRetentionJobParams, now time.Time) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.Nop()
	params.DB = passthroughTx{}
	job, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	typed := job.(*outboxRetentionJob)
	typed.now = func() time.Time { return now }
	return typed
}

func TestOutboxRetentionJobDefaults(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxPurger{results: []int64{7}}
	dlq := &fakeDLQPurger{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: repo, DeadLetters: dlq}, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.AddDate(0, 0, -outboxRetentionDays); !repo.cutoff.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", repo.cutoff, want)
	}
	if repo.maxAttempts != outboxMaxAttempts || repo.limit != outboxPurgeBatch {
		t.Fatalf("unexpected purge args attempts=%d limit=%d", repo.maxAttempts, repo.limit)
	}
	if repo.calls != 1 {
		t.Fatalf("expected a single short batch, got %d calls", repo.calls)
	}
	if want := now.AddDate(0, 0, -dlqRetentionDays); dlq.calls != 1 || !dlq.cutoff.Equal(want) {
		t.Fatalf("dlq purge calls=%d cutoff=%s", dlq.calls, dlq.cutoff)
	}
}

func TestOutboxRetentionJobDrainsFullBatches(t *testing.T) {
	repo := &fakeOutboxPurger{results: []int64{2, 2, 1}}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: repo, BatchSize: 2, MaxAttempts: 4}, time.Now())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", repo.calls)
	}
	if repo.maxAttempts != 4 {
		t.Fatalf("expected publisher threshold 4, got %d", repo.maxAttempts)
	}
}

func TestOutboxRetentionJobStopsOnCancel(t *testing.T) {
	repo := &fakeOutboxPurger{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: repo}, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("expected no purge after cancel")
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxPurger{err: errors.New("boom")}
	job := newRetentionJob(t, OutboxRetentionJobParams{Repository: repo}, time.Now())

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
