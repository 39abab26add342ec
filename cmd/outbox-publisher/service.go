package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
	backoffJitter      = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Metrics    *metrics.OutboxMetrics
	// PublisherFactory overrides how the topic publisher is built.
	PublisherFactory func(topic string) publisher
}

// Service drains outbox_events into the order events topic. Events for the
// same order share an ordering key so subscribers see them in commit order.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	pubsub      pubSubClient
	metrics     *metrics.OutboxMetrics
	topic       string
	pub         publisher
	newPub      func(topic string) publisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

// batchStats counts what happened to each row of one fetched batch.
type batchStats struct {
	published int
	retrying  int
	parked    int
}

func (b batchStats) total() int { return b.published + b.retrying + b.parked }

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Config.PubSub.OrdersTopic == "":
		return nil, errors.New("orders topic is required")
	}

	s := &Service{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		pubsub:      params.PubSub,
		metrics:     params.Metrics,
		topic:       params.Config.PubSub.OrdersTopic,
		newPub:      params.PublisherFactory,
		batchSize:   params.Config.Outbox.BatchSize,
		maxAttempts: params.Config.Outbox.MaxAttempts,
		poll:        time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if s.newPub == nil {
		s.newPub = func(topic string) publisher { return orderedPublisher(params.PubSub.Publisher(topic)) }
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.poll <= 0 {
		s.poll = defaultPoll
	}
	return s, nil
}

// Run polls until ctx is canceled. Empty or failed polls back off
// exponentially up to maxIdleBackoff; a full batch polls again at once.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	idle := s.newIdleBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		stats, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
		case stats.total() > 0:
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"published": stats.published,
				"retrying":  stats.retrying,
				"parked":    stats.parked,
			}), "outbox batch drained")
			idle = s.newIdleBackoff()
			if stats.total() >= s.batchSize {
				continue
			}
		}

		wait, _ := idle.Next()
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newIdleBackoff() retry.Backoff {
	return retry.WithJitter(backoffJitter, retry.WithCappedDuration(maxIdleBackoff, retry.NewExponential(s.poll)))
}

// processBatch locks up to batchSize rows, publishes each and records the
// outcome in the same transaction.
func (s *Service) processBatch(ctx context.Context) (batchStats, error) {
	var stats batchStats
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		stats = batchStats{}
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, event := range events {
			if err := s.deliver(ctx, tx, event, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	return stats, err
}

// deliver publishes one row. Only bookkeeping failures are returned; a
// publish failure is recorded on the row instead.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, stats *batchStats) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID.String(),
		"attempt_count": event.AttemptCount,
	})

	msg, err := s.message(event)
	if err != nil {
		stats.parked++
		return s.park(ctx, tx, event, fmt.Errorf("decode envelope: %w", err))
	}

	if pubErr := s.publish(ctx, msg); pubErr != nil {
		s.metrics.IncFailed(string(event.EventType))
		if event.AttemptCount+1 >= s.maxAttempts {
			stats.parked++
			return s.park(ctx, tx, event, fmt.Errorf("max publish attempts reached: %w", pubErr))
		}
		stats.retrying++
		s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed, will retry")
		if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		return nil
	}

	if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	stats.published++
	s.metrics.IncPublished(string(event.EventType))
	s.logg.Debug(ctx, "outbox event published")
	return nil
}

func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error) error {
	s.logg.Warn(s.logg.WithField(ctx, "error", cause.Error()), "outbox event parked")
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

// message builds the Pub/Sub message for a row. The stored payload is sent
// as-is; attributes let subscribers filter without decoding it.
func (s *Service) message(event models.OutboxEvent) (*gcppubsub.Message, error) {
	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
		"schema_version": fmt.Sprint(env.Version),
	}
	var ref struct {
		Reference string `json:"reference"`
	}
	if json.Unmarshal(env.Data, &ref) == nil && ref.Reference != "" {
		attrs["reference"] = ref.Reference
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: event.AggregateID.String(),
	}, nil
}

func (s *Service) publish(ctx context.Context, msg *gcppubsub.Message) error {
	if s.pub == nil {
		s.pub = s.newPub(s.topic)
	}
	if s.pub == nil {
		return fmt.Errorf("no publisher for topic %s", s.topic)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := s.pub.Publish(ctx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned no result for topic %s", s.topic)
	}
	_, err := result.Get(ctx)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// orderedPublisher enables ordering keys on p. After a failed publish the
// key is paused by the client library, so it is resumed for the next retry.
func orderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return gcpPublisher{p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return resumingResult{res: g.p.Publish(ctx, msg), p: g.p, key: msg.OrderingKey}
}

type resumingResult struct {
	res *gcppubsub.PublishResult
	p   *gcppubsub.Publisher
	key string
}

func (r resumingResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.p.ResumePublish(r.key)
	}
	return id, err
}
