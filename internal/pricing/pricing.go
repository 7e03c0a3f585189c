// Package pricing turns catalog price facts into rounded line and order totals.
// All monetary outputs are rounded half-up to the cent.
package pricing

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

const centPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// PriceFact is the catalog price of a product at the moment it is read.
type PriceFact struct {
	UnitExclTax    decimal.Decimal
	TaxRatePercent decimal.Decimal
}

// Line is the computed money for one order line.
type Line struct {
	UnitInclTax decimal.Decimal
	LineExclTax decimal.Decimal
	LineInclTax decimal.Decimal
}

// Totals is the sum of line totals for an order.
type Totals struct {
	ExclTax decimal.Decimal
	InclTax decimal.Decimal
}

// Round rounds half-up to the cent. Inputs are never negative here, so
// decimal's half-away-from-zero rounding is half-up.
func Round(value decimal.Decimal) decimal.Decimal {
	return value.Round(centPlaces)
}

// UnitInclTax applies the tax rate to a unit price and rounds once.
func UnitInclTax(unitExclTax, taxRatePercent decimal.Decimal) decimal.Decimal {
	return Round(unitExclTax.Mul(one.Add(taxRatePercent.Div(hundred))))
}

// Validate checks a price fact against the accepted ranges.
func (p PriceFact) Validate() error {
	if p.UnitExclTax.IsNegative() {
		return pkgerrors.InvalidPricingInput("unit price excl. tax must be >= 0, got %s", p.UnitExclTax)
	}
	if p.TaxRatePercent.IsNegative() || p.TaxRatePercent.GreaterThan(hundred) {
		return pkgerrors.InvalidPricingInput("tax rate must be between 0 and 100, got %s", p.TaxRatePercent)
	}
	return nil
}

// ComputeLine prices quantity units. The incl. tax unit price is rounded
// first and the line total is derived from that rounded value.
func ComputeLine(unitExclTax, taxRatePercent decimal.Decimal, quantity int) (Line, error) {
	fact := PriceFact{UnitExclTax: unitExclTax, TaxRatePercent: taxRatePercent}
	if err := fact.Validate(); err != nil {
		return Line{}, err
	}
	if quantity < 1 {
		return Line{}, pkgerrors.InvalidPricingInput("quantity must be >= 1, got %d", quantity)
	}

	qty := decimal.NewFromInt(int64(quantity))
	unitIncl := UnitInclTax(unitExclTax, taxRatePercent)
	return Line{
		UnitInclTax: unitIncl,
		LineExclTax: Round(unitExclTax.Mul(qty)),
		LineInclTax: Round(unitIncl.Mul(qty)),
	}, nil
}

// ComputeOrderTotals sums already rounded line totals. The sums of cent
// values are exact so no further rounding happens.
func ComputeOrderTotals(lines []Line) Totals {
	totals := Totals{ExclTax: decimal.Zero, InclTax: decimal.Zero}
	for _, line := range lines {
		totals.ExclTax = totals.ExclTax.Add(line.LineExclTax)
		totals.InclTax = totals.InclTax.Add(line.LineInclTax)
	}
	return totals
}

// MinorUnits converts an amount to the integer cents a card gateway charges.
func MinorUnits(amount decimal.Decimal) int64 {
	return Round(amount).Shift(centPlaces).IntPart()
}
