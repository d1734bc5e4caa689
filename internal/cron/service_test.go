package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mercato/mercato-backend/pkg/logger"
)

type fakeLock struct {
	acquired bool
	held     bool
	lost     bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held || f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Refresh(context.Context) (bool, error) {
	return f.acquired && !f.lost, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

func newCronService(t *testing.T, lock Lock, clock func() time.Time, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &stubJob{name: "success"}
	failure := &stubJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	service := newCronService(t, lock, nil, success, failure)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if success.runs != 1 {
		t.Fatalf("expected success job to run once, ran %d", success.runs)
	}
	if failure.runs != 1 {
		t.Fatalf("expected failure job to run once, ran %d", failure.runs)
	}
	if lock.releases != 1 || lock.acquired {
		t.Fatalf("expected lock released after the cycle")
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &stubJob{name: "escrow_release"}
	service := newCronService(t, &fakeLock{held: true}, nil, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran without the lock")
	}
}

func TestServiceHonoursJobCadence(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	every := &stubJob{name: "authorization_expiry"}
	hourly := &stubJob{name: "payout_run"}
	wrapped := Every(hourly, time.Hour).(*periodicJob)
	wrapped.now = clock
	service := newCronService(t, &fakeLock{}, clock, every, wrapped)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := service.RunOnce(ctx); err != nil {
			t.Fatalf("run cycle: %v", err)
		}
		now = now.Add(5 * time.Minute)
	}
	if every.runs != 3 {
		t.Fatalf("expected per-tick job to run 3 times, ran %d", every.runs)
	}
	if hourly.runs != 1 {
		t.Fatalf("expected hourly job to run once, ran %d", hourly.runs)
	}

	now = now.Add(time.Hour)
	if err := service.RunOnce(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if hourly.runs != 2 {
		t.Fatalf("expected hourly job to run again, ran %d", hourly.runs)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected lock error")
	}
}

func TestServiceStopsWhenLockLost(t *testing.T) {
	lock := &fakeLock{}
	first := &stubJob{name: "first"}
	second := &stubJob{name: "second"}
	service := newCronService(t, lock, time.Now, first, second)
	lock.lost = true

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if first.runs != 1 || second.runs != 0 {
		t.Fatalf("expected only the first job before the lock check, got %d/%d", first.runs, second.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected release after abandoning cycle")
	}
}

type panicJob struct{}

func (panicJob) Name() string { return "panics" }

func (panicJob) Run(context.Context) error { panic("nil settlement") }

func TestServiceSurvivesPanickingJob(t *testing.T) {
	lock := &fakeLock{}
	after := &stubJob{name: "after"}
	service := newCronService(t, lock, nil, panicJob{}, after)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if after.runs != 1 {
		t.Fatalf("expected job after the panic to run, ran %d", after.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released after panic")
	}
}

type deadlineJob struct {
	deadline time.Time
	ok       bool
}

func (j *deadlineJob) Name() string { return "deadline" }

func (j *deadlineJob) Run(ctx context.Context) error {
	j.deadline, j.ok = ctx.Deadline()
	return nil
}

func TestServiceAppliesJobTimeout(t *testing.T) {
	job := &deadlineJob{}
	service, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   NewRegistry(job),
		Lock:       &fakeLock{},
		JobTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !job.ok || time.Until(job.deadline) > time.Minute {
		t.Fatalf("expected a deadline within a minute, got %v (set=%v)", job.deadline, job.ok)
	}
}
