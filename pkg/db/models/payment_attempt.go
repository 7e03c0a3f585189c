package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/enums"
)

// PaymentAttempt records one charge against an order. At most one attempt
// per order may be succeeded (ux_payment_attempts_order_succeeded).
type PaymentAttempt struct {
	ID                uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID                  `gorm:"column:order_id;type:uuid;not null;index"`
	Amount            decimal.Decimal            `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          enums.Currency             `gorm:"column:currency;not null;default:'eur'"`
	ExternalReference *string                    `gorm:"column:external_reference"`
	Status            enums.PaymentAttemptStatus `gorm:"column:status;type:payment_attempt_status;not null"`
	FailureReason     *string                    `gorm:"column:failure_reason"`
	FailedProductID   *uuid.UUID                 `gorm:"column:failed_product_id;type:uuid"`
	CreatedAt         time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentAttempt) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
