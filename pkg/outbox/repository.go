package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lmdrive/drive-backend/pkg/db/models"
)

// last_error and dlq error_message are capped at this many bytes.
const maxErrorBytes = 1024

// Repository reads and updates outbox_events for the publisher and the
// retention job.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("outbox: insert needs a transaction")
	}
	return tx.Create(&event).Error
}

// ClaimBatch locks up to limit unpublished rows, oldest first, skipping rows
// another publisher holds. Rows at maxAttempts or beyond are left alone.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("outbox: claim needs a transaction")
	}
	q := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at, id").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return r.update(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// RecordFailure bumps attempt_count and keeps the latest error.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.update(tx, id, map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    truncate(cause.Error()),
	})
}

// Park sets attempt_count to attempts so ClaimBatch never returns the row
// again. Used after the row has been copied to the DLQ.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID, cause error, attempts int) error {
	return r.update(tx, id, map[string]any{
		"attempt_count": attempts,
		"last_error":    truncate(cause.Error()),
	})
}

// DeletePublishedBefore prunes delivered rows; tx may be nil.
func (r *Repository) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Where("published_at IS NOT NULL AND published_at < ?", cutoff).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, cols map[string]any) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(cols).Error
}

func truncate(msg string) string {
	if len(msg) <= maxErrorBytes {
		return msg
	}
	return msg[:maxErrorBytes]
}
