package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderLine holds the price snapshot taken when the product was first added.
type OrderLine struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_lines_order_product"`
	ProductID        uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_order_lines_order_product"`
	Quantity         int             `gorm:"column:quantity;not null;check:chk_order_lines_quantity_positive,quantity >= 1"`
	UnitPriceExclTax decimal.Decimal `gorm:"column:unit_price_excl_tax;type:numeric(10,2);not null"`
	TaxRatePercent   decimal.Decimal `gorm:"column:tax_rate_percent;type:numeric(5,2);not null"`
	UnitPriceInclTax decimal.Decimal `gorm:"column:unit_price_incl_tax;type:numeric(10,2);not null"`
	LineTotalExclTax decimal.Decimal `gorm:"column:line_total_excl_tax;type:numeric(12,2);not null"`
	LineTotalInclTax decimal.Decimal `gorm:"column:line_total_incl_tax;type:numeric(12,2);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
