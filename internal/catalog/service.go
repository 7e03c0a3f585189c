package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/internal/pricing"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

// PriceReader is consulted once, when a product first lands on an order.
// tx may be nil outside a transaction.
type PriceReader interface {
	GetProductPrice(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (pricing.PriceFact, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, errors.New("catalog repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) GetProductPrice(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (pricing.PriceFact, error) {
	product, err := s.repo.WithTx(tx).FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pricing.PriceFact{}, pkgerrors.ProductNotFound()
		}
		return pricing.PriceFact{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product price")
	}
	fact := pricing.PriceFact{
		UnitExclTax:    product.UnitPriceExclTax,
		TaxRatePercent: product.TaxRatePercent,
	}
	if err := fact.Validate(); err != nil {
		return pricing.PriceFact{}, err
	}
	return fact, nil
}
