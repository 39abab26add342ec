package cron

import (
	"context"
	"sync"
	"time"
)

// Job is a unit of scheduled work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type schedule struct {
	job   Job
	every time.Duration
	next  time.Time
}

// Registry holds jobs with their cadence. A job registered with a
// non-positive cadence is due on every tick.
type Registry struct {
	mu      sync.Mutex
	entries []*schedule
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job to run every interval. Duplicate names are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.job.Name() == job.Name() {
			return
		}
	}
	r.entries = append(r.entries, &schedule{job: job, every: every})
}

// Due returns the jobs whose next run is at or before now, in registration
// order, and schedules their following run.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, e := range r.entries {
		if !e.next.IsZero() && now.Before(e.next) {
			continue
		}
		due = append(due, e.job)
		if e.every > 0 {
			e.next = now.Add(e.every)
		}
	}
	return due
}

// Names lists registered job names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.job.Name())
	}
	return names
}
