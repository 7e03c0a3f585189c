package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

const (
	defaultPendingTTL   = 72 * time.Hour
	pendingExpiryBatch  = 100
	pendingExpiryJobKey = "pending-order-expiry"
)

// PendingExpiryJobParams configure the stale pending order sweep.
type PendingExpiryJobParams struct {
	Logger      *logger.Logger
	Orders      stalePendingLister
	Transitions orderTransitioner
	TTL         time.Duration
	BatchSize   int
}

type stalePendingLister interface {
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type orderTransitioner interface {
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor orders.Actor) (*orders.OrderView, error)
}

// NewPendingExpiryJob builds the job that cancels pending orders nobody paid
// for within the TTL. Pending orders hold no stock, so cancelling them only
// changes status.
func NewPendingExpiryJob(params PendingExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Transitions == nil {
		return nil, fmt.Errorf("transition coordinator required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = pendingExpiryBatch
	}
	return &pendingExpiryJob{
		logg:        params.Logger,
		orders:      params.Orders,
		transitions: params.Transitions,
		ttl:         ttl,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type pendingExpiryJob struct {
	logg        *logger.Logger
	orders      stalePendingLister
	transitions orderTransitioner
	ttl         time.Duration
	batch       int
	now         func() time.Time
}

func (j *pendingExpiryJob) Name() string { return pendingExpiryJobKey }

func (j *pendingExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	ids, err := j.orders.StalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}

	var errs error
	expired, skipped := 0, 0
	for _, id := range ids {
		_, err := j.transitions.Transition(ctx, id, enums.OrderStatusCancelled, orders.SystemActor())
		switch {
		case err == nil:
			expired++
		case raced(err):
			// paid or cancelled since the query ran
			skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(ids),
		"expired": expired,
		"skipped": skipped,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return errs
}

func raced(err error) bool {
	if errors.Is(err, pkgerrors.ErrInvalidStatusTransition) {
		return true
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound:
		return true
	}
	return false
}
