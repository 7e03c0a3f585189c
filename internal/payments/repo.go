package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

// Repository persists payment attempts. Methods taking tx fall back to the
// base connection when tx is nil.
type Repository interface {
	Save(ctx context.Context, tx *gorm.DB, attempt *models.PaymentAttempt) error
	FindByExternalReference(ctx context.Context, tx *gorm.DB, reference string) (*models.PaymentAttempt, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAttempt, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// Save inserts the attempt, or updates in place the attempt already carrying
// the same external reference so gateway retries never duplicate rows.
func (r *repository) Save(ctx context.Context, tx *gorm.DB, attempt *models.PaymentAttempt) error {
	db := r.conn(ctx, tx)
	if attempt.ExternalReference != nil && *attempt.ExternalReference != "" {
		existing, err := r.FindByExternalReference(ctx, tx, *attempt.ExternalReference)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.OrderID != attempt.OrderID {
				return pkgerrors.New(pkgerrors.CodeConflict, "external reference belongs to another order")
			}
			attempt.ID = existing.ID
			attempt.CreatedAt = existing.CreatedAt
			// A succeeded attempt is final and pending never overwrites a
			// gateway answer.
			if existing.Status == enums.PaymentAttemptSucceeded || attempt.Status == enums.PaymentAttemptPending {
				attempt.Status = existing.Status
				return nil
			}
			return db.Model(&models.PaymentAttempt{}).
				Where("id = ?", existing.ID).
				Updates(map[string]any{
					"amount":            attempt.Amount,
					"currency":          attempt.Currency,
					"status":            attempt.Status,
					"failure_reason":    attempt.FailureReason,
					"failed_product_id": attempt.FailedProductID,
					"updated_at":        time.Now().UTC(),
				}).Error
		}
	}
	return db.Create(attempt).Error
}

func (r *repository) FindByExternalReference(ctx context.Context, tx *gorm.DB, reference string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	err := r.conn(ctx, tx).Where("external_reference = ?", reference).First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentAttempt, error) {
	var rows []models.PaymentAttempt
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
