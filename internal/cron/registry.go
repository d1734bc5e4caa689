package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// scheduled is implemented by jobs that run less often than every tick.
type scheduled interface {
	Due(now time.Time) bool
}

// Registry tracks registered cron jobs.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Every wraps job so it runs at most once per interval. A failed run leaves
// the job due on the next tick.
func Every(job Job, interval time.Duration) Job {
	if job == nil || interval <= 0 {
		return job
	}
	return &periodicJob{Job: job, interval: interval, now: time.Now}
}

type periodicJob struct {
	Job
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func (p *periodicJob) Due(now time.Time) bool {
	return p.last.IsZero() || !now.Before(p.last.Add(p.interval))
}

func (p *periodicJob) Run(ctx context.Context) error {
	started := p.now()
	if err := p.Job.Run(ctx); err != nil {
		return err
	}
	p.last = started
	return nil
}
