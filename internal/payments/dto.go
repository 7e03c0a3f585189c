package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
)

// AttemptView is the read model of a payment attempt.
type AttemptView struct {
	ID                uuid.UUID                  `json:"id"`
	OrderID           uuid.UUID                  `json:"order_id"`
	Amount            string                     `json:"amount"`
	Currency          enums.Currency             `json:"currency"`
	ExternalReference string                     `json:"external_reference,omitempty"`
	Status            enums.PaymentAttemptStatus `json:"status"`
	FailureReason     string                     `json:"failure_reason,omitempty"`
	FailedProductID   *uuid.UUID                 `json:"failed_product_id,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
}

func NewAttemptView(attempt *models.PaymentAttempt) AttemptView {
	view := AttemptView{
		ID:              attempt.ID,
		OrderID:         attempt.OrderID,
		Amount:          attempt.Amount.StringFixed(2),
		Currency:        attempt.Currency,
		Status:          attempt.Status,
		FailedProductID: attempt.FailedProductID,
		CreatedAt:       attempt.CreatedAt.UTC(),
	}
	if attempt.ExternalReference != nil {
		view.ExternalReference = *attempt.ExternalReference
	}
	if attempt.FailureReason != nil {
		view.FailureReason = *attempt.FailureReason
	}
	return view
}
