package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lmdrive/drive-backend/pkg/enums"
)

// ChargeRequest asks the gateway to charge an order's total.
type ChargeRequest struct {
	OrderID         uuid.UUID
	CustomerID      uuid.UUID
	Amount          decimal.Decimal
	Currency        enums.Currency
	PaymentMethodID string
	IdempotencyKey  string
}

// ChargeResult is the gateway's synchronous answer. A declined card is a
// result with OutcomeFailed, not an error.
type ChargeResult struct {
	ExternalReference string
	Outcome           enums.PaymentOutcome
	FailureReason     string
	ClientSecret      string
}

// Gateway is the payment provider surface used by checkout.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, externalReference, reason string) error
}
