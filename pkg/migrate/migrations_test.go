package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lmdrive/drive-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, got %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations on disk: %v", err)
	}
	if err := migrate.Validate(migrate.Embedded()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestCreateSQLMigrationProducesValidFile(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Pickup Slots!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_pickup_slots.sql") {
		t.Fatalf("unexpected file name %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration does not validate: %v", err)
	}

	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatalf("expected error for empty sanitized name")
	}
}

func TestValidateRejectsMissingDownSection(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_broken.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestEnumMigrationDeclaresStatuses(t *testing.T) {
	assertContains(t, readMigration(t, "create_drive_enums"), []string{
		"CREATE TYPE order_status AS ENUM ('pending', 'confirmed', 'ready', 'fulfilled', 'cancelled')",
		"CREATE TYPE payment_attempt_status AS ENUM ('pending', 'succeeded', 'failed', 'requires_action')",
		"DROP TYPE IF EXISTS order_status",
	})
}

func TestStockMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_stock_records"), []string{
		"CREATE TABLE IF NOT EXISTS stock_records",
		"CONSTRAINT chk_stock_records_quantity_non_negative CHECK (quantity_on_hand >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_stock_records_store_product ON stock_records (store_id, product_id)",
		"DROP TABLE IF EXISTS stock_records",
	})
}

func TestOrdersMigrationEnforcesSinglePendingOrder(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"), []string{
		"status order_status NOT NULL DEFAULT 'pending'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_customer_pending ON orders (customer_id) WHERE status = 'pending'",
		"CONSTRAINT chk_order_lines_quantity_positive CHECK (quantity >= 1)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_lines_order_product ON order_lines (order_id, product_id)",
		"REFERENCES orders(id) ON DELETE CASCADE",
	})
}

func TestPaymentAttemptsMigrationAllowsOneSuccessPerOrder(t *testing.T) {
	assertContains(t, readMigration(t, "create_payment_attempts"), []string{
		"status payment_attempt_status NOT NULL",
		"WHERE status = 'succeeded'",
		"ux_payment_attempts_external_reference ON payment_attempts (external_reference) WHERE external_reference IS NOT NULL",
	})
}

func TestOutboxMigrationCreatesDLQ(t *testing.T) {
	assertContains(t, readMigration(t, "create_outbox"), []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_dlq_event_id ON outbox_dlq (event_id)",
		"WHERE published_at IS NULL",
	})
}
