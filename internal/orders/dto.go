package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
)

// LineView is the read model for an order line. Money is rendered with
// two decimals.
type LineView struct {
	ProductID        uuid.UUID `json:"product_id"`
	Quantity         int       `json:"quantity"`
	UnitPriceExclTax string    `json:"unit_price_excl_tax"`
	TaxRatePercent   string    `json:"tax_rate_percent"`
	UnitPriceInclTax string    `json:"unit_price_incl_tax"`
	LineTotalExclTax string    `json:"line_total_excl_tax"`
	LineTotalInclTax string    `json:"line_total_incl_tax"`
}

// OrderView is the read model returned by the API.
type OrderView struct {
	ID           uuid.UUID         `json:"id"`
	CustomerID   uuid.UUID         `json:"customer_id"`
	StoreID      uuid.UUID         `json:"store_id"`
	Status       enums.OrderStatus `json:"status"`
	TotalExclTax string            `json:"total_excl_tax"`
	TotalInclTax string            `json:"total_incl_tax"`
	Lines        []LineView        `json:"lines"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	FulfilledAt  *time.Time        `json:"fulfilled_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
}

// LineResult is returned by line mutations. StockWarning is advisory only.
type LineResult struct {
	Order        OrderView           `json:"order"`
	StockWarning *enums.StockWarning `json:"stock_warning,omitempty"`
}

// ListParams filters an order listing. Customers always see their own
// orders; Status is honoured for every role.
type ListParams struct {
	Status *enums.OrderStatus
	Limit  int
	Cursor string
}

type ListResult struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		StoreID:      order.StoreID,
		Status:       order.Status,
		TotalExclTax: order.TotalExclTax.StringFixed(2),
		TotalInclTax: order.TotalInclTax.StringFixed(2),
		Lines:        make([]LineView, 0, len(order.Lines)),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		ConfirmedAt:  utcPtr(order.ConfirmedAt),
		FulfilledAt:  utcPtr(order.FulfilledAt),
		CancelledAt:  utcPtr(order.CancelledAt),
	}
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, LineView{
			ProductID:        line.ProductID,
			Quantity:         line.Quantity,
			UnitPriceExclTax: line.UnitPriceExclTax.StringFixed(2),
			TaxRatePercent:   line.TaxRatePercent.StringFixed(2),
			UnitPriceInclTax: line.UnitPriceInclTax.StringFixed(2),
			LineTotalExclTax: line.LineTotalExclTax.StringFixed(2),
			LineTotalInclTax: line.LineTotalInclTax.StringFixed(2),
		})
	}
	return view
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
