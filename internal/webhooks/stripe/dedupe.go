package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lmdrive/drive-backend/pkg/redis"
)

// EventDedupe claims Stripe event ids in redis so each event is handled by
// one delivery at a time and at most once after success.
type EventDedupe struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewEventDedupe(store redis.IdempotencyStore, ttl time.Duration, scope string) (*EventDedupe, error) {
	switch {
	case store == nil:
		return nil, errors.New("event dedupe: store is required")
	case ttl < 0:
		return nil, errors.New("event dedupe: ttl must not be negative")
	case scope == "":
		return nil, errors.New("event dedupe: scope is required")
	}
	return &EventDedupe{store: store, ttl: ttl, scope: scope}, nil
}

// Claim reports whether the caller is the first to see eventID.
func (d *EventDedupe) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is empty")
	}
	first, err := d.store.SetNX(ctx, d.store.IdempotencyKey(d.scope, eventID), time.Now().UTC().Format(time.RFC3339), d.ttl)
	if err != nil {
		return false, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return first, nil
}

// Release gives up a claim so a redelivery can retry.
func (d *EventDedupe) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is empty")
	}
	return d.store.Del(ctx, d.store.IdempotencyKey(d.scope, eventID))
}
