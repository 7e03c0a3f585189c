package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/enums"
)

// Order is a customer's basket at one store. Totals are derived from Lines
// and are only ever written together with a line change.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID   uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	StoreID      uuid.UUID         `gorm:"column:store_id;type:uuid;not null"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	TotalExclTax decimal.Decimal   `gorm:"column:total_excl_tax;type:numeric(12,2);not null;default:0"`
	TotalInclTax decimal.Decimal   `gorm:"column:total_incl_tax;type:numeric(12,2);not null;default:0"`
	ConfirmedAt  *time.Time        `gorm:"column:confirmed_at"`
	FulfilledAt  *time.Time        `gorm:"column:fulfilled_at"`
	CancelledAt  *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
	Lines        []OrderLine       `gorm:"foreignKey:OrderID;references:ID;constraint:OnDelete:CASCADE"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// Line returns the line for productID, if any.
func (o *Order) Line(productID uuid.UUID) (*OrderLine, bool) {
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID {
			return &o.Lines[i], true
		}
	}
	return nil, false
}
