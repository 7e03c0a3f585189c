package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/internal/repo"
	"github.com/lmdrive/drive-backend/pkg/db/models"
)

// Repository reads catalog rows. The catalog is owned by another service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// FindProduct returns gorm.ErrRecordNotFound for unknown or inactive products.
func (r *repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.First(ctx, &product, nil, "id = ? AND is_active = ?", productID, true); err != nil {
		return nil, err
	}
	return &product, nil
}
