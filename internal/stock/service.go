package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/pkg/db"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

const upsertAttempts = 3

// Ledger is the stock surface other components depend on.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Reserve(ctx context.Context, storeID, productID uuid.UUID, quantity int) error
	Restock(ctx context.Context, storeID, productID uuid.UUID, quantity int) error
	QuantityOnHand(ctx context.Context, storeID, productID uuid.UUID) (int, error)
}

type Service struct {
	repo Repository
	logg *logger.Logger
}

var _ Ledger = (*Service)(nil)

func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("stock repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// WithTx binds the ledger to an open transaction.
func (s *Service) WithTx(tx *gorm.DB) Ledger {
	return &Service{repo: s.repo.WithTx(tx), logg: s.logg}
}

// Reserve takes quantity units out of stock or fails without changing anything.
func (s *Service) Reserve(ctx context.Context, storeID, productID uuid.UUID, quantity int) error {
	if quantity < 1 {
		return pkgerrors.InvalidQuantity("reserve quantity must be >= 1, got %d", quantity)
	}
	ok, err := s.repo.DecrementIfAvailable(ctx, storeID, productID, quantity)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
	}
	if ok {
		return nil
	}

	record, err := s.repo.Find(ctx, storeID, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.StockNotFound()
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return pkgerrors.InsufficientStock(productID.String(), quantity, record.QuantityOnHand)
}

// Restock puts quantity units back on the shelf.
func (s *Service) Restock(ctx context.Context, storeID, productID uuid.UUID, quantity int) error {
	if quantity < 0 {
		return pkgerrors.InvalidQuantity("restock quantity must be >= 0, got %d", quantity)
	}
	if err := s.repo.Increment(ctx, storeID, productID, quantity); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock")
	}
	return nil
}

func (s *Service) QuantityOnHand(ctx context.Context, storeID, productID uuid.UUID) (int, error) {
	record, err := s.repo.Find(ctx, storeID, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.StockNotFound()
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return record.QuantityOnHand, nil
}

// SetStock overwrites the quantity and expiration date for the pair,
// creating the record if needed.
func (s *Service) SetStock(ctx context.Context, input SetStockInput) (*Record, error) {
	if input.Quantity < 0 {
		return nil, pkgerrors.InvalidQuantity("quantity must be >= 0, got %d", input.Quantity)
	}
	record := &models.StockRecord{
		StoreID:        input.StoreID,
		ProductID:      input.ProductID,
		QuantityOnHand: input.Quantity,
		ExpirationDate: input.ExpirationDate,
	}

	var err error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		record.ID = uuid.Nil
		if err = s.repo.Upsert(ctx, record); err == nil || !db.IsUniqueViolation(err, "ux_stock_records_store_product") {
			break
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), "stock upsert raced, retrying")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert stock record")
	}

	stored, err := s.repo.Find(ctx, input.StoreID, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock record")
	}
	return toRecord(stored), nil
}

// Record returns the read model for one pair.
func (s *Service) Record(ctx context.Context, storeID, productID uuid.UUID) (*Record, error) {
	record, err := s.repo.Find(ctx, storeID, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.StockNotFound()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return toRecord(record), nil
}

// Summary totals a product's stock across stores.
func (s *Service) Summary(ctx context.Context, productID uuid.UUID) (*Summary, error) {
	records, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock records")
	}
	summary := &Summary{ProductID: productID, Stores: make([]Record, 0, len(records))}
	for i := range records {
		summary.Total += records[i].QuantityOnHand
		summary.Stores = append(summary.Stores, *toRecord(&records[i]))
	}
	return summary, nil
}

// Advise reports whether quantity looks available at the store. It never
// reserves anything and the answer can be stale by the time the order is paid.
func (s *Service) Advise(ctx context.Context, storeID, productID uuid.UUID, quantity int) (*enums.StockWarning, error) {
	record, err := s.repo.Find(ctx, storeID, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			warning := enums.StockWarningNoStockRecord
			return &warning, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	if record.QuantityOnHand < quantity {
		warning := enums.StockWarningInsufficient
		return &warning, nil
	}
	return nil, nil
}

func toRecord(m *models.StockRecord) *Record {
	return &Record{
		StoreID:        m.StoreID,
		ProductID:      m.ProductID,
		QuantityOnHand: m.QuantityOnHand,
		ExpirationDate: m.ExpirationDate,
		UpdatedAt:      m.UpdatedAt.UTC().Truncate(time.Second),
	}
}
