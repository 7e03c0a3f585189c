package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lmdrive/drive-backend/internal/pricing"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

// LineChange describes what a line mutation did, so the caller can persist
// exactly that row and the new totals.
type LineChange struct {
	Line    *models.OrderLine
	Created bool
	Removed bool
}

func ensureEditable(order *models.Order) error {
	if order.Status != enums.OrderStatusPending {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, pkgerrors.ErrOrderLinesFrozen, "order lines can only change while the order is pending").
			WithDetails(map[string]any{"status": order.Status})
	}
	return nil
}

// AddOrCombineLine adds quantity of productID. An existing line keeps its
// original price snapshot; snapshot is only used for a new line.
func AddOrCombineLine(order *models.Order, productID uuid.UUID, quantity int, snapshot pricing.PriceFact) (LineChange, error) {
	if err := ensureEditable(order); err != nil {
		return LineChange{}, err
	}

	if line, ok := order.Line(productID); ok {
		next := line.Quantity + quantity
		if next < 1 {
			return LineChange{}, pkgerrors.InvalidQuantity("resulting quantity must be >= 1, got %d", next)
		}
		if err := reprice(line, next); err != nil {
			return LineChange{}, err
		}
		RecomputeTotals(order)
		return LineChange{Line: line}, nil
	}

	if quantity < 1 {
		return LineChange{}, pkgerrors.InvalidQuantity("quantity must be >= 1, got %d", quantity)
	}
	computed, err := pricing.ComputeLine(snapshot.UnitExclTax, snapshot.TaxRatePercent, quantity)
	if err != nil {
		return LineChange{}, err
	}
	order.Lines = append(order.Lines, models.OrderLine{
		OrderID:          order.ID,
		ProductID:        productID,
		Quantity:         quantity,
		UnitPriceExclTax: snapshot.UnitExclTax,
		TaxRatePercent:   snapshot.TaxRatePercent,
		UnitPriceInclTax: computed.UnitInclTax,
		LineTotalExclTax: computed.LineExclTax,
		LineTotalInclTax: computed.LineInclTax,
	})
	RecomputeTotals(order)
	return LineChange{Line: &order.Lines[len(order.Lines)-1], Created: true}, nil
}

// UpdateLineQuantity sets an absolute quantity. Zero or less is rejected;
// use RemoveLine instead.
func UpdateLineQuantity(order *models.Order, productID uuid.UUID, quantity int) (LineChange, error) {
	if err := ensureEditable(order); err != nil {
		return LineChange{}, err
	}
	if quantity < 1 {
		return LineChange{}, pkgerrors.InvalidQuantity("quantity must be >= 1, got %d", quantity)
	}
	line, ok := order.Line(productID)
	if !ok {
		return LineChange{}, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
	}
	if err := reprice(line, quantity); err != nil {
		return LineChange{}, err
	}
	RecomputeTotals(order)
	return LineChange{Line: line}, nil
}

// RemoveLine drops the line for productID.
func RemoveLine(order *models.Order, productID uuid.UUID) (LineChange, error) {
	if err := ensureEditable(order); err != nil {
		return LineChange{}, err
	}
	for i := range order.Lines {
		if order.Lines[i].ProductID != productID {
			continue
		}
		removed := order.Lines[i]
		order.Lines = append(order.Lines[:i], order.Lines[i+1:]...)
		RecomputeTotals(order)
		return LineChange{Line: &removed, Removed: true}, nil
	}
	return LineChange{}, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
}

// RecomputeTotals rebuilds the order totals from its lines.
func RecomputeTotals(order *models.Order) {
	lines := make([]pricing.Line, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = pricing.Line{
			UnitInclTax: line.UnitPriceInclTax,
			LineExclTax: line.LineTotalExclTax,
			LineInclTax: line.LineTotalInclTax,
		}
	}
	totals := pricing.ComputeOrderTotals(lines)
	order.TotalExclTax = totals.ExclTax
	order.TotalInclTax = totals.InclTax
}

// reprice derives line totals from the stored snapshot, including the
// already rounded incl. tax unit price.
func reprice(line *models.OrderLine, quantity int) error {
	computed, err := pricing.ComputeLine(line.UnitPriceExclTax, line.TaxRatePercent, quantity)
	if err != nil {
		return err
	}
	line.Quantity = quantity
	line.LineTotalExclTax = computed.LineExclTax
	line.LineTotalInclTax = pricing.Round(line.UnitPriceInclTax.Mul(decimal.NewFromInt(int64(quantity))))
	return nil
}

// TotalsMatchLines reports whether the stored totals equal the line sums.
func TotalsMatchLines(order *models.Order) bool {
	excl, incl := decimal.Zero, decimal.Zero
	for _, line := range order.Lines {
		excl = excl.Add(line.LineTotalExclTax)
		incl = incl.Add(line.LineTotalInclTax)
	}
	return excl.Equal(order.TotalExclTax) && incl.Equal(order.TotalInclTax)
}
