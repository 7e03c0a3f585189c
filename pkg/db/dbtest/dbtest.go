// Package dbtest opens throwaway sqlite databases carrying the same tables and
// uniqueness rules as the Postgres migrations.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/lmdrive/drive-backend/pkg/db"
	"github.com/lmdrive/drive-backend/pkg/db/models"
)

// partialIndexes mirror the partial unique indexes created by the migrations.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_customer_pending ON orders (customer_id) WHERE status = 'pending'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_attempts_order_succeeded ON payment_attempts (order_id) WHERE status = 'succeeded'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_attempts_external_reference ON payment_attempts (external_reference) WHERE external_reference IS NOT NULL`,
}

// Open returns a migrated in-memory database private to the test. A single
// connection serializes statements, standing in for Postgres row locks.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:drive_%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig(nil))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.Store{},
		&models.Product{},
		&models.StockRecord{},
		&models.Order{},
		&models.OrderLine{},
		&models.PaymentAttempt{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	for _, stmt := range partialIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create index: %v", err)
		}
	}
	return conn
}

// Client wraps Open in the transaction runner used by services.
func Client(t testing.TB) (*dbpkg.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return dbpkg.Wrap(conn), conn
}
