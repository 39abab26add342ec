package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
)

const (
	defaultTick    = time.Minute
	defaultLockTTL = 10 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	// Tick is how often the registry is checked for due jobs.
	Tick time.Duration
	// LockTTL bounds how long a crashed instance can hold a job.
	LockTTL time.Duration
}

// Service wakes up every tick and runs whichever jobs are due, each under
// its own lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		tick:     params.Tick,
		lockTTL:  params.LockTTL,
		now:      time.Now,
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	return s, nil
}

// Run blocks until ctx is canceled. The first check happens immediately.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithField(ctx, "jobs", s.registry.Names())
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.runDue(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runDue(ctx context.Context) {
	for _, job := range s.registry.Due(s.now()) {
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	lease, ok, err := s.locker.Acquire(ctx, name, s.lockTTL)
	if err != nil {
		s.logg.Error(ctx, "cron lock unavailable", err)
		s.metrics.ObserveRun(name, err, 0)
		return
	}
	if !ok {
		s.logg.Debug(ctx, "job held by another instance")
		s.metrics.IncSkipped(name)
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(ctx, "cron lock release failed: "+err.Error())
		}
	}()

	start := time.Now()
	err = job.Run(ctx)
	took := time.Since(start)
	s.metrics.ObserveRun(name, err, took)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "job failed", err)
		return
	}
	s.logg.Info(ctx, "job completed")
}
