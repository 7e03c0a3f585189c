package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	"github.com/lmdrive/drive-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackIdle        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	maxPause            = 10 * time.Second
	jitterWindow        = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventSource interface {
	ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, err error) error
	Park(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterSink interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	PubSub      pubSubClient
	Source      eventSource
	Resolver    eventResolver
	DeadLetters deadLetterSink
	Metrics     *metrics.OutboxMetrics
	// Publishers overrides how a topic publisher is built. Tests use it.
	Publishers publisherFactory
}

// Relay moves committed outbox rows onto Pub/Sub. Each pass claims a batch
// inside one transaction; a row that fails holds back the later rows of the
// same aggregate until the next pass.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	pubsub      pubSubClient
	source      eventSource
	resolver    eventResolver
	deadLetters deadLetterSink
	metrics     *metrics.OutboxMetrics
	topics      *topicPublishers
	batchSize   int
	maxAttempts int
	idle        time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Source == nil:
		return nil, errors.New("outbox repository is required")
	case p.Resolver == nil:
		return nil, errors.New("event registry is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := p.Publishers
	if factory == nil {
		factory = func(topic string) publisher {
			return wrapPublisher(p.PubSub.Publisher(topic))
		}
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		source:      p.Source,
		resolver:    p.Resolver,
		deadLetters: p.DeadLetters,
		metrics:     p.Metrics,
		topics:      newTopicPublishers(factory),
		batchSize:   p.Outbox.BatchSize,
		maxAttempts: p.Outbox.MaxAttempts,
		idle:        p.Outbox.PollInterval,
	}
	if r.batchSize <= 0 {
		r.batchSize = fallbackBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = fallbackMaxAttempts
	}
	if r.idle <= 0 {
		r.idle = fallbackIdle
	}
	return r, nil
}

// Run drains the outbox until ctx is cancelled. A pass that claimed rows is
// followed immediately by another; failed passes back off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	defer r.topics.stop()

	for name, ping := range map[string]func(context.Context) error{
		"database": r.db.Ping,
		"pubsub":   r.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	schedule := pollSchedule{idle: r.idle, max: maxPause}
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		claimed, err := r.drain(ctx)
		var pause time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay pass failed", err)
			pause = schedule.failed()
		case claimed:
			schedule.reset()
			continue
		default:
			pause = schedule.reset()
		}

		if err := sleepCtx(ctx, withJitter(pause)); err != nil {
			return err
		}
	}
}

// drain runs one pass and reports whether any row was claimed.
func (r *Relay) drain(ctx context.Context) (bool, error) {
	claimed := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.source.ClaimBatch(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		claimed = true
		r.metrics.IncBatch()

		held := make(map[uuid.UUID]bool, len(rows))
		for _, row := range rows {
			if held[row.AggregateID] {
				continue
			}
			result, err := r.relayRow(ctx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.IncEvent(string(row.EventType), result)
			if result != metrics.OutboxPublished {
				held[row.AggregateID] = true
			}
		}
		return nil
	})
	return claimed, err
}

// pollSchedule doubles the pause after each failed pass, capped at max.
type pollSchedule struct {
	idle    time.Duration
	max     time.Duration
	current time.Duration
}

func (s *pollSchedule) reset() time.Duration {
	s.current = s.idle
	return s.idle
}

func (s *pollSchedule) failed() time.Duration {
	if s.current <= 0 {
		s.current = s.idle
	}
	s.current *= 2
	if s.current > s.max {
		s.current = s.max
	}
	return s.current
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
