package enums

// StockWarning flags cart-time availability problems. It never blocks the cart.
type StockWarning string

const (
	StockWarningInsufficient  StockWarning = "insufficient_stock"
	StockWarningNoStockRecord StockWarning = "no_stock_record"
)
