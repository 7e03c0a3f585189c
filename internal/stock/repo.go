package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lmdrive/drive-backend/pkg/db/models"
)

// Repository persists stock records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, storeID, productID uuid.UUID) (*models.StockRecord, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockRecord, error)
	DecrementIfAvailable(ctx context.Context, storeID, productID uuid.UUID, quantity int) (bool, error)
	Increment(ctx context.Context, storeID, productID uuid.UUID, quantity int) error
	Upsert(ctx context.Context, record *models.StockRecord) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, storeID, productID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	if err := r.db.WithContext(ctx).
		Where("store_id = ? AND product_id = ?", storeID, productID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockRecord, error) {
	var records []models.StockRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("store_id ASC").
		Find(&records).Error
	return records, err
}

// DecrementIfAvailable subtracts quantity in one conditional UPDATE. The row
// lock taken by the UPDATE makes the check and the write a single step, so
// concurrent callers can never drive the quantity below zero.
func (r *repository) DecrementIfAvailable(ctx context.Context, storeID, productID uuid.UUID, quantity int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("store_id = ? AND product_id = ? AND quantity_on_hand >= ?", storeID, productID, quantity).
		Updates(map[string]any{
			"quantity_on_hand": gorm.Expr("quantity_on_hand - ?", quantity),
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Increment adds quantity, creating the record when the pair has never been stocked.
func (r *repository) Increment(ctx context.Context, storeID, productID uuid.UUID, quantity int) error {
	record := models.StockRecord{StoreID: storeID, ProductID: productID, QuantityOnHand: quantity}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "store_id"}, {Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity_on_hand": gorm.Expr("stock_records.quantity_on_hand + ?", quantity),
				"updated_at":       time.Now().UTC(),
			}),
		}).
		Create(&record).Error
}

// Upsert writes the absolute quantity and expiration date for the pair.
func (r *repository) Upsert(ctx context.Context, record *models.StockRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "store_id"}, {Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity_on_hand": record.QuantityOnHand,
				"expiration_date":  record.ExpirationDate,
				"updated_at":       time.Now().UTC(),
			}),
		}).
		Create(record).Error
}
