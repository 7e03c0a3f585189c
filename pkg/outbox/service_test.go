package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/db/dbtest"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

func confirmedEvent(orderID uuid.UUID) DomainEvent {
	staff := uuid.New()
	return DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         &ActorRef{UserID: &staff, Role: "staff"},
		Data:          map[string]any{"total": "18.60"},
	}
}

func TestEmitWritesEnvelopeInTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())
	fixed := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	orderID := uuid.New()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, confirmedEvent(orderID))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	assert.Equal(t, 1, env.Version)
	assert.True(t, fixed.Equal(env.OccurredAt))
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, "staff", env.Actor.Role)
	assert.JSONEq(t, `{"total":"18.60"}`, string(env.Data))
}

func TestEmitRolledBackWithCaller(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, confirmedEvent(uuid.New())); err != nil {
			return err
		}
		return errors.New("stock update failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)

	assert.Error(t, svc.Emit(context.Background(), nil, confirmedEvent(uuid.New())))
}

func TestEmitRejectsUnencodableData(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	event := confirmedEvent(uuid.New())
	event.Data = map[string]any{"bad": make(chan int)}

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, event)
	})
	assert.ErrorContains(t, err, string(enums.EventOrderConfirmed))
}

func TestRepositoryLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	row := models.OutboxEvent{
		EventType:     enums.EventOrderReady,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(conn, row))
	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored).Error)

	require.NoError(t, repo.RecordFailure(nil, stored.ID, errors.New(strings.Repeat("x", 2000))))
	require.NoError(t, conn.First(&stored, "id = ?", stored.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Len(t, *stored.LastError, maxErrorBytes)

	require.NoError(t, repo.Park(nil, stored.ID, errors.New("no topic"), 10))
	require.NoError(t, conn.First(&stored, "id = ?", stored.ID).Error)
	assert.Equal(t, 10, stored.AttemptCount)
	assert.Equal(t, "no topic", *stored.LastError)

	require.NoError(t, repo.MarkPublished(nil, stored.ID))
	deleted, err := repo.DeletePublishedBefore(nil, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)
	deleted, err = repo.DeletePublishedBefore(nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestDLQInsertAndPrune(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	msg := strings.Repeat("e", 3000)

	require.Error(t, dlq.InsertTx(nil, models.OutboxDLQ{}))
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventStockOut,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
	}))

	var parked models.OutboxDLQ
	require.NoError(t, conn.First(&parked).Error)
	assert.Len(t, *parked.ErrorMessage, maxErrorBytes)
	assert.False(t, parked.FailedAt.IsZero())

	pruned, err := dlq.DeleteFailedBefore(nil, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}
