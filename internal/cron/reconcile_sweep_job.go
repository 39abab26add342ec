package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-payments/internal/reconcile"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
)

const (
	defaultSweepBatch = 100
	defaultSweepGrace = 2 * time.Minute
)

type pendingSideEffectLister interface {
	ListPendingSideEffects(ctx context.Context, paidBefore time.Time, limit int) ([]string, error)
	MarkSideEffectsAttempted(ctx context.Context, reference string, at time.Time) error
}

type sideEffectResumer interface {
	Resume(ctx context.Context, reference string) (*reconcile.Result, error)
}

// ReconcileSweepJobParams configure the retry sweep for paid orders whose
// post-payment work did not finish.
type ReconcileSweepJobParams struct {
	Logger  *logger.Logger
	Orders  pendingSideEffectLister
	Resumer sideEffectResumer
	// Grace keeps the sweep away from orders a live trigger is still working on.
	Grace     time.Duration
	BatchSize int
}

func NewReconcileSweepJob(params ReconcileSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Resumer == nil {
		return nil, fmt.Errorf("reconcile engine required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &reconcileSweepJob{
		logg:    params.Logger,
		orders:  params.Orders,
		resumer: params.Resumer,
		grace:   grace,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type reconcileSweepJob struct {
	logg    *logger.Logger
	orders  pendingSideEffectLister
	resumer sideEffectResumer
	grace   time.Duration
	batch   int
	now     func() time.Time
}

func (j *reconcileSweepJob) Name() string { return "reconcile-sweep" }

// Run resumes every pending order in the batch. A failure on one order never
// stops the rest; retryable failures are aggregated into the returned error.
func (j *reconcileSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	refs, err := j.orders.ListPendingSideEffects(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list pending side effects: %w", err)
	}

	var (
		errs      error
		completed int
		parked    int
	)
	for _, ref := range refs {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		refCtx := j.logg.WithReference(ctx, ref)
		if err := j.orders.MarkSideEffectsAttempted(refCtx, ref, j.now()); err != nil {
			j.logg.Error(refCtx, "sweep attempt not recorded", err)
		}
		result, err := j.resumer.Resume(refCtx, ref)
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("resume %s: %w", ref, err))
		case result.NeedsRetry():
			errs = multierr.Append(errs, fmt.Errorf("resume %s: side effects incomplete", ref))
		case result.Failed():
			// Permanent failures such as an unknown variant need an operator.
			parked++
			j.logg.Warn(refCtx, "sweep left order with permanent side-effect failure")
		default:
			completed++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"pending":   len(refs),
		"completed": completed,
		"parked":    parked,
		"failed":    len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "reconcile sweep complete")
	return errs
}
