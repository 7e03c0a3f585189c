package outbox

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/db/models"
)

// DLQRepository stores rows the publisher gave up on, for manual replay.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx writes entry in the same transaction that parks the outbox row.
// The error message is capped like outbox_events.last_error.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("outbox dlq: insert needs a transaction")
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("outbox dlq: unknown error reason %q", entry.ErrorReason)
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	return tx.Create(&entry).Error
}

// DeleteFailedBefore prunes dead letters older than cutoff; tx may be nil.
func (r *DLQRepository) DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
