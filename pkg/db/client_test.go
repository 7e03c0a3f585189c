package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/config"
)

type slot struct {
	ID    int
	Label string `gorm:"uniqueIndex"`
}

func memoryClient(t *testing.T) *Client {
	t.Helper()
	dsn := fmt.Sprintf("file:db_%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), GormConfig(nil))
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&slot{}))
	return Wrap(gdb)
}

func slotCount(t *testing.T, c *Client, label string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&slot{}).Where("label = ?", label).Count(&n).Error)
	return n
}

func TestWithTx(t *testing.T) {
	c := memoryClient(t)
	ctx := context.Background()

	require.NoError(t, c.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&slot{Label: "kept"}).Error
	}))
	assert.EqualValues(t, 1, slotCount(t, c, "kept"))

	err := c.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&slot{Label: "undone"}).Error)
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Zero(t, slotCount(t, c, "undone"))
}

func TestWithTxRollsBackOnCancelledContext(t *testing.T) {
	c := memoryClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := c.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&slot{Label: "late"}).Error)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, slotCount(t, c, "late"))
}

func TestIsUniqueViolation(t *testing.T) {
	c := memoryClient(t)
	require.NoError(t, c.DB().Create(&slot{Label: "dup"}).Error)
	assert.True(t, IsUniqueViolation(c.DB().Create(&slot{Label: "dup"}).Error, ""))

	named := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_orders_customer_pending"})
	assert.True(t, IsUniqueViolation(named, "ux_orders_customer_pending"))
	assert.False(t, IsUniqueViolation(named, "ux_other"))
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505", Constraint: "ux_stock_records_store_product"}, "ux_stock_records_store_product"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey, "anything"))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestPingAndEmptyDSN(t *testing.T) {
	assert.NoError(t, memoryClient(t).Ping(context.Background()))

	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.ErrorContains(t, err, "dsn is required")
}
