package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-payments/pkg/instance"
)

// Locker hands out per-job leases so a job runs on one instance at a time.
type Locker interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (Lease, bool, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLocker takes leases with SETNX under keyFn(job).
type RedisLocker struct {
	store lockStore
	keyFn func(job string) string
}

// NewRedisLocker builds a locker; keyFn maps a job name to its redis key.
func NewRedisLocker(store lockStore, keyFn func(job string) string) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis store required for cron locks")
	}
	if keyFn == nil {
		return nil, errors.New("lock key func required")
	}
	return &RedisLocker{store: store, keyFn: keyFn}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, job string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lock ttl for %s must be positive", job)
	}
	key := l.keyFn(job)
	token := instance.GetID() + "/" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: key, token: token}, true, nil
}

type redisLease struct {
	store lockStore
	key   string
	token string
}

// Release deletes the key only while it still carries this lease's token;
// an expired lease that someone else re-took is left alone.
func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.store.DelIfValue(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	return nil
}
