package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
)

// scriptedPruner returns one result per call from deleted.
type scriptedPruner struct {
	deleted []int64
	err     error
	calls   int
	cutoff  time.Time
	limit   int
	ceiling int
}

func (p *scriptedPruner) PruneBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminal, limit int) (int64, error) {
	p.cutoff, p.limit, p.ceiling = cutoff, limit, terminal
	if p.err != nil {
		return 0, p.err
	}
	var n int64
	if p.calls < len(p.deleted) {
		n = p.deleted[p.calls]
	}
	p.calls++
	return n, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func newRetentionJob(t *testing.T, repo outboxPruner, db txRunner, batch int) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         db,
		Repository: repo,
		BatchSize:  batch,
	})
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionPrunesInBatchesUntilShort(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	pruner := &scriptedPruner{deleted: []int64{3, 3, 1}}
	job := newRetentionJob(t, pruner, passthroughTx{}, 3)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, pruner.calls)
	assert.Equal(t, 3, pruner.limit)
	assert.Equal(t, outboxTerminalAttempts, pruner.ceiling)
	assert.True(t, pruner.cutoff.Equal(now.Add(-outboxRetentionDays*24*time.Hour)))
}

func TestOutboxRetentionStopsOnError(t *testing.T) {
	pruner := &scriptedPruner{err: errors.New("boom")}
	job := newRetentionJob(t, pruner, passthroughTx{}, 0)

	err := job.Run(context.Background())
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, outboxPruneBatch, pruner.limit)
}

func TestOutboxRetentionHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pruner := &scriptedPruner{}
	job := newRetentionJob(t, pruner, passthroughTx{}, 10)

	require.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Zero(t, pruner.calls)
}

func TestOutboxRetentionAgainstDatabase(t *testing.T) {
	client, conn := dbtest.OpenClient(t)
	now := time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	rows := []models.OutboxEvent{
		dbtest.OutboxEventFixture("old-published", old, &old, 1),
		dbtest.OutboxEventFixture("old-published-2", old.Add(time.Minute), &old, 1),
		dbtest.OutboxEventFixture("recent-published", recent, &recent, 1),
		dbtest.OutboxEventFixture("old-parked", old, nil, outboxTerminalAttempts),
		dbtest.OutboxEventFixture("old-pending", old, nil, 2),
	}
	require.NoError(t, conn.Create(&rows).Error)

	job := newRetentionJob(t, outbox.NewRepository(conn), client, 2)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	var remaining []string
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Order("event_type").Pluck("event_type", &remaining).Error)
	assert.Equal(t, []string{"old-pending", "recent-published"}, remaining)
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{DB: passthroughTx{}, Repository: &scriptedPruner{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), Repository: &scriptedPruner{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), DB: passthroughTx{}})
	assert.Error(t, err)
}
