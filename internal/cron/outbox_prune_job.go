package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxPruneParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Published   publishedPruner
	DeadLetters deadLetterPruner
	// Retention defaults to 30 days.
	Retention time.Duration
}

// OutboxPruneJob deletes published outbox rows and dead letters past the
// retention window. Rows still waiting to publish are never touched.
type OutboxPruneJob struct {
	logg      *logger.Logger
	db        txRunner
	published publishedPruner
	dead      deadLetterPruner
	retention time.Duration
	now       func() time.Time
}

func NewOutboxPruneJob(p OutboxPruneParams) (*OutboxPruneJob, error) {
	if p.Logger == nil || p.DB == nil || p.Published == nil || p.DeadLetters == nil {
		return nil, errors.New("outbox prune: logger, db and both repositories are required")
	}
	if p.Retention <= 0 {
		p.Retention = defaultOutboxRetention
	}
	return &OutboxPruneJob{
		logg:      p.Logger,
		db:        p.DB,
		published: p.Published,
		dead:      p.DeadLetters,
		retention: p.Retention,
		now:       time.Now,
	}, nil
}

func (j *OutboxPruneJob) Name() string { return "outbox-prune" }

func (j *OutboxPruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)

	var published, dead int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		if published, err = j.published.DeletePublishedBefore(tx, cutoff); err != nil {
			return fmt.Errorf("published rows: %w", err)
		}
		if dead, err = j.dead.DeleteFailedBefore(tx, cutoff); err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox prune: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":            cutoff,
		"published_deleted": published,
		"dlq_deleted":       dead,
	}), "outbox pruned")
	return nil
}
