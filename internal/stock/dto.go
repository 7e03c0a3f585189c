package stock

import (
	"time"

	"github.com/google/uuid"
)

// Record is the stock read model shown next to catalog entries.
type Record struct {
	StoreID        uuid.UUID  `json:"store_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	QuantityOnHand int        `json:"quantity_on_hand"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Summary aggregates one product's stock over every store.
type Summary struct {
	ProductID uuid.UUID `json:"product_id"`
	Total     int       `json:"total"`
	Stores    []Record  `json:"stores"`
}

// SetStockInput overwrites a stock record.
type SetStockInput struct {
	StoreID        uuid.UUID
	ProductID      uuid.UUID
	Quantity       int
	ExpirationDate *time.Time
}
