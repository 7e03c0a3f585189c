// Package registry knows, for every outbox event type, which aggregate it
// belongs to, which Pub/Sub topic carries it and how to decode its payload.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/outbox"
	"github.com/lmdrive/drive-backend/pkg/outbox/payloads"
)

// PermanentError marks a row that will fail the same way on every retry.
// The publisher dead-letters it immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a *PermanentError.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Route describes one event type.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is an outbox row that passed validation.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

// NewEventRegistry routes order lifecycle events to the orders topic,
// payment problems to the payments topic and restocks to the stock topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	for name, topic := range map[string]string{
		"orders":   cfg.OrdersTopic,
		"payments": cfg.PaymentsTopic,
		"stock":    cfg.StockTopic,
	} {
		if topic == "" {
			return nil, fmt.Errorf("outbox registry: %s topic is not configured", name)
		}
	}

	routes := []Route{
		route[payloads.OrderStatusChangedEvent](enums.EventOrderConfirmed, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.OrderStatusChangedEvent](enums.EventOrderReady, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.OrderStatusChangedEvent](enums.EventOrderFulfilled, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.OrderStatusChangedEvent](enums.EventOrderCancelled, enums.AggregateOrder, cfg.OrdersTopic),
		route[payloads.PaymentFailedEvent](enums.EventPaymentFailed, enums.AggregateOrder, cfg.PaymentsTopic),
		route[payloads.StockOutEvent](enums.EventStockOut, enums.AggregateOrder, cfg.PaymentsTopic),
		route[payloads.StockRestockedEvent](enums.EventStockRestocked, enums.AggregateStockRecord, cfg.StockTopic),
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, r := range routes {
		reg.routes[r.EventType] = r
	}
	return reg, nil
}

// Topics returns the distinct topics, sorted.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, rt := range r.routes {
		topics = append(topics, rt.Topic)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

// Resolve checks row against its route and decodes the payload. Every
// failure is permanent: the stored row will never decode differently.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[row.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("no route for event type %q", row.EventType))
	case rt.AggregateType != row.AggregateType:
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row has %s", row.EventType, rt.AggregateType, row.AggregateType))
	case row.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("row has no aggregate id"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, Permanent(fmt.Errorf("envelope: %w", err))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s envelope has no data", row.EventType))
	}
	payload, err := rt.decode(env.Data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s payload: %w", row.EventType, err))
	}
	return &ResolvedEvent{Route: rt, Envelope: env, Payload: payload}, nil
}
