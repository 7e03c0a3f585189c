package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the catalog row the drive reads prices from. Catalog editing
// lives elsewhere; this service only reads it.
type Product struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name             string          `gorm:"column:name;not null"`
	UnitPriceExclTax decimal.Decimal `gorm:"column:unit_price_excl_tax;type:numeric(10,2);not null"`
	TaxRatePercent   decimal.Decimal `gorm:"column:tax_rate_percent;type:numeric(5,2);not null"`
	IsActive         bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
