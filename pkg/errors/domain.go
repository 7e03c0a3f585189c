package errors

import (
	stdErrors "errors"
	"fmt"
)

// Domain sentinels. They are always returned wrapped in an *Error so callers
// can branch with errors.Is while the API layer keeps using the Code.
var (
	ErrInvalidQuantity         = stdErrors.New("invalid quantity")
	ErrInvalidPricingInput     = stdErrors.New("invalid pricing input")
	ErrDuplicatePendingOrder   = stdErrors.New("customer already has a pending order")
	ErrStockUnavailable        = stdErrors.New("stock unavailable")
	ErrInvalidStatusTransition = stdErrors.New("invalid status transition")
	ErrOrderNotFound           = stdErrors.New("order not found")
	ErrStockNotFound           = stdErrors.New("stock record not found")
	ErrInsufficientStock       = stdErrors.New("insufficient stock")
	ErrOrderLinesFrozen        = stdErrors.New("order lines are frozen")
	ErrOrderHasPayment         = stdErrors.New("order has a succeeded payment")
	ErrProductNotFound         = stdErrors.New("product not found")
	ErrAmountMismatch          = stdErrors.New("payment amount does not match order total")
	ErrOrderNotPayable         = stdErrors.New("order is not awaiting payment")
)

func InvalidQuantity(format string, args ...any) *Error {
	return Wrap(CodeValidation, ErrInvalidQuantity, fmt.Sprintf(format, args...))
}

func InvalidPricingInput(format string, args ...any) *Error {
	return Wrap(CodeValidation, ErrInvalidPricingInput, fmt.Sprintf(format, args...))
}

func DuplicatePendingOrder() *Error {
	return Wrap(CodeConflict, ErrDuplicatePendingOrder, "customer already has a pending order")
}

func InvalidStatusTransition(from, to string) *Error {
	return Wrap(CodeStateConflict, ErrInvalidStatusTransition, fmt.Sprintf("cannot transition order from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

func OrderNotFound() *Error {
	return Wrap(CodeNotFound, ErrOrderNotFound, "order not found")
}

func StockNotFound() *Error {
	return Wrap(CodeNotFound, ErrStockNotFound, "stock record not found")
}

func ProductNotFound() *Error {
	return Wrap(CodeNotFound, ErrProductNotFound, "product not found")
}

func InsufficientStock(productID string, requested, available int) *Error {
	return Wrap(CodeConflict, ErrInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		})
}

// StockUnavailable reports a stock-out detected while settling a payment.
// The charge already went through, so the caller owes the customer a refund.
func StockUnavailable(productID string) *Error {
	return Wrap(CodeConflict, ErrStockUnavailable, "product is out of stock").
		WithDetails(map[string]any{
			"product_id":      productID,
			"reason":          "payment_time_stock_out",
			"refund_required": true,
		})
}

func AmountMismatch(expected, received string) *Error {
	return Wrap(CodeConflict, ErrAmountMismatch, "payment amount does not match order total").
		WithDetails(map[string]any{
			"expected":        expected,
			"received":        received,
			"refund_required": true,
		})
}

// OrderNotPayable reports a charge for an order that can no longer be paid.
func OrderNotPayable(status string) *Error {
	return Wrap(CodeStateConflict, ErrOrderNotPayable, "order is not awaiting payment").
		WithDetails(map[string]any{
			"status":          status,
			"refund_required": true,
		})
}
