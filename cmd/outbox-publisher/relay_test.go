package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	"github.com/lmdrive/drive-backend/pkg/outbox"
	"github.com/lmdrive/drive-backend/pkg/outbox/payloads"
	"github.com/lmdrive/drive-backend/pkg/outbox/registry"
)

const ordersTopic = "drive-orders"

type relayFixture struct {
	source *memorySource
	pub    *recordingPublisher
	dlq    *memoryDLQ
	relay  *Relay
	reg    *prometheus.Registry
}

func newRelayFixture(t *testing.T, resolver eventResolver, maxAttempts int, rows ...models.OutboxEvent) *relayFixture {
	t.Helper()
	f := &relayFixture{
		source: &memorySource{rows: rows},
		pub:    &recordingPublisher{},
		dlq:    &memoryDLQ{},
		reg:    prometheus.NewRegistry(),
	}
	relay, err := NewRelay(RelayParams{
		Outbox:      config.OutboxConfig{BatchSize: 10, PollInterval: 10 * time.Millisecond, MaxAttempts: maxAttempts},
		Logger:      logger.Nop(),
		DB:          passthroughTx{},
		PubSub:      idlePubSub{},
		Source:      f.source,
		Resolver:    resolver,
		DeadLetters: f.dlq,
		Metrics:     metrics.NewOutboxMetrics(f.reg),
		Publishers: func(topic string) publisher {
			require.Equal(t, ordersTopic, topic)
			return f.pub
		},
	})
	require.NoError(t, err)
	f.relay = relay
	return f
}

func orderRow(t *testing.T, eventType enums.OutboxEventType, orderID uuid.UUID, attempts int) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRelayPublishesOrderedMessage(t *testing.T) {
	row := orderRow(t, enums.EventOrderFulfilled, uuid.New(), 0)
	f := newRelayFixture(t, staticResolver{}, 5, row)

	claimed, err := f.relay.drain(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	require.Len(t, f.pub.sent, 1)
	msg := f.pub.sent[0]
	assert.Equal(t, row.AggregateID.String(), msg.OrderingKey)
	assert.Equal(t, string(enums.EventOrderFulfilled), msg.Attributes["event_type"])
	assert.Equal(t, string(enums.AggregateOrder), msg.Attributes["aggregate_type"])
	assert.Equal(t, row.ID.String(), msg.Attributes["event_id"])
	assert.Equal(t, "2026-03-01T10:00:00Z", msg.Attributes["created_at"])
	assert.Equal(t, []byte(row.Payload), msg.Data)

	assert.Equal(t, []uuid.UUID{row.ID}, f.source.published)
	expected := `
# HELP outbox_batches_total Non-empty outbox batches processed.
# TYPE outbox_batches_total counter
outbox_batches_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "outbox_batches_total"))
}

func TestRelayHoldsBackLaterEventsOfFailedOrder(t *testing.T) {
	orderID := uuid.New()
	confirmed := orderRow(t, enums.EventOrderConfirmed, orderID, 0)
	ready := orderRow(t, enums.EventOrderReady, orderID, 0)
	other := orderRow(t, enums.EventOrderCancelled, uuid.New(), 0)
	f := newRelayFixture(t, staticResolver{}, 5, confirmed, ready, other)
	f.pub.failures = []error{errors.New("unavailable")}

	_, err := f.relay.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, f.pub.sent, 2)
	assert.Equal(t, other.AggregateID.String(), f.pub.sent[1].OrderingKey)
	assert.Equal(t, []uuid.UUID{confirmed.ID}, f.source.failed)
	assert.Equal(t, []uuid.UUID{other.ID}, f.source.published)
	assert.Equal(t, []string{orderID.String()}, f.pub.resumed)
}

func TestRelayDeadLettersUnresolvableRow(t *testing.T) {
	row := orderRow(t, enums.EventStockOut, uuid.New(), 0)
	f := newRelayFixture(t, staticResolver{err: registry.Permanent(errors.New("invalid payload"))}, 5, row)

	claimed, err := f.relay.drain(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Empty(t, f.pub.sent)

	require.Len(t, f.dlq.entries, 1)
	entry := f.dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "invalid payload", *entry.ErrorMessage)
	assert.Equal(t, []uuid.UUID{row.ID}, f.source.terminal)
}

func TestRelayDeadLettersAfterMaxAttempts(t *testing.T) {
	row := orderRow(t, enums.EventPaymentFailed, uuid.New(), 1)
	f := newRelayFixture(t, staticResolver{}, 2, row)
	f.pub.failures = []error{errors.New("unavailable")}

	_, err := f.relay.drain(context.Background())
	require.NoError(t, err)

	require.Len(t, f.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, f.dlq.entries[0].ErrorReason)
	assert.Equal(t, []uuid.UUID{row.ID}, f.source.terminal)
	assert.Empty(t, f.source.failed)
}

func TestRelayEmptyPass(t *testing.T) {
	f := newRelayFixture(t, staticResolver{}, 5)

	claimed, err := f.relay.drain(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	f := newRelayFixture(t, staticResolver{}, 5)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.relay.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTopicPublishersCachePerTopic(t *testing.T) {
	builds := 0
	topics := newTopicPublishers(func(string) publisher {
		builds++
		return &recordingPublisher{}
	})

	first := topics.get(ordersTopic)
	assert.Same(t, first, topics.get(ordersTopic))
	topics.get("drive-stock")
	assert.Equal(t, 2, builds)

	topics.stop()
	assert.Empty(t, topics.byTopic)
}

func TestPollScheduleBacksOffAndResets(t *testing.T) {
	s := pollSchedule{idle: time.Second, max: 5 * time.Second}

	assert.Equal(t, 2*time.Second, s.failed())
	assert.Equal(t, 4*time.Second, s.failed())
	assert.Equal(t, 5*time.Second, s.failed())
	assert.Equal(t, time.Second, s.reset())
}

type staticResolver struct {
	err error
}

func (r staticResolver) Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &registry.ResolvedEvent{
		Route:    registry.Route{Topic: ordersTopic, AggregateType: row.AggregateType},
		Envelope: outbox.PayloadEnvelope{EventID: row.ID.String(), OccurredAt: row.CreatedAt},
		Payload:  &payloads.OrderStatusChangedEvent{},
	}, nil
}

type memorySource struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (s *memorySource) ClaimBatch(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return s.rows, nil
}

func (s *memorySource) MarkPublished(_ *gorm.DB, id uuid.UUID) error {
	s.published = append(s.published, id)
	return nil
}

func (s *memorySource) RecordFailure(_ *gorm.DB, id uuid.UUID, _ error) error {
	s.failed = append(s.failed, id)
	return nil
}

func (s *memorySource) Park(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	s.terminal = append(s.terminal, id)
	return nil
}

type memoryDLQ struct {
	entries []models.OutboxDLQ
}

func (d *memoryDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	d.entries = append(d.entries, entry)
	return nil
}

type passthroughTx struct{}

func (passthroughTx) Ping(context.Context) error { return nil }

func (passthroughTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type idlePubSub struct{}

func (idlePubSub) Ping(context.Context) error { return nil }

func (idlePubSub) Publisher(string) *gcppubsub.Publisher { return nil }

// recordingPublisher fails the first len(failures) publishes in order.
type recordingPublisher struct {
	failures []error
	sent     []*gcppubsub.Message
	resumed  []string
}

func (p *recordingPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.sent = append(p.sent, msg)
	var err error
	if len(p.failures) > 0 {
		err, p.failures = p.failures[0], p.failures[1:]
	}
	return settledResult{err: err}
}

func (p *recordingPublisher) ResumePublish(key string) {
	p.resumed = append(p.resumed, key)
}

type settledResult struct {
	err error
}

func (r settledResult) Get(context.Context) (string, error) {
	return "server-id", r.err
}
