package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockRecord is the on-hand quantity of one product at one store.
type StockRecord struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	StoreID        uuid.UUID  `gorm:"column:store_id;type:uuid;not null;uniqueIndex:ux_stock_records_store_product"`
	ProductID      uuid.UUID  `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_records_store_product"`
	QuantityOnHand int        `gorm:"column:quantity_on_hand;not null;default:0;check:chk_stock_records_quantity_non_negative,quantity_on_hand >= 0"`
	ExpirationDate *time.Time `gorm:"column:expiration_date;type:date"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *StockRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
