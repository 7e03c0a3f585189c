package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/db/models"
)

// SeedStore inserts a store and returns its id.
func SeedStore(t testing.TB, conn *gorm.DB) uuid.UUID {
	t.Helper()
	store := models.Store{Name: "Drive " + uuid.NewString()[:8]}
	if err := conn.Create(&store).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store.ID
}

// SeedProduct inserts a catalog product priced excl. tax with the given rate.
func SeedProduct(t testing.TB, conn *gorm.DB, price, taxRate string) models.Product {
	t.Helper()
	product := models.Product{
		Name:             "Product " + uuid.NewString()[:8],
		UnitPriceExclTax: decimal.RequireFromString(price),
		TaxRatePercent:   decimal.RequireFromString(taxRate),
		IsActive:         true,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedStock inserts a stock record with the given on-hand quantity.
func SeedStock(t testing.TB, conn *gorm.DB, storeID, productID uuid.UUID, quantity int) {
	t.Helper()
	record := models.StockRecord{StoreID: storeID, ProductID: productID, QuantityOnHand: quantity}
	if err := conn.Create(&record).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

// QuantityOnHand reads the raw stock quantity, failing the test when absent.
func QuantityOnHand(t testing.TB, conn *gorm.DB, storeID, productID uuid.UUID) int {
	t.Helper()
	var record models.StockRecord
	if err := conn.Where("store_id = ? AND product_id = ?", storeID, productID).First(&record).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return record.QuantityOnHand
}
