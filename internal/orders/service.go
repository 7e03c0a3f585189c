package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/internal/catalog"
	"github.com/lmdrive/drive-backend/internal/pricing"
	"github.com/lmdrive/drive-backend/pkg/db"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/pagination"
)

const pendingOrderConstraint = "ux_orders_customer_pending"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockAdvisor interface {
	Advise(ctx context.Context, storeID, productID uuid.UUID, quantity int) (*enums.StockWarning, error)
}

type Service struct {
	repo   Repository
	tx     txRunner
	prices catalog.PriceReader
	stock  stockAdvisor
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx txRunner, prices catalog.PriceReader, stock stockAdvisor, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if prices == nil {
		return nil, fmt.Errorf("price reader required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock advisor required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		prices: prices,
		stock:  stock,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Create opens a new pending order for the customer at storeID. A customer
// holds at most one pending order.
func (s *Service) Create(ctx context.Context, actor Actor, storeID uuid.UUID) (*OrderView, error) {
	if actor.Role != enums.ActorRoleCustomer || actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can open orders")
	}
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store_id is required")
	}

	order := &models.Order{
		CustomerID: actor.UserID,
		StoreID:    storeID,
		Status:     enums.OrderStatusPending,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindPendingByCustomer(ctx, actor.UserID)
		switch {
		case err == nil:
			return duplicatePending(existing.ID)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check pending order")
		}
		if err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, pendingOrderConstraint) {
				return pkgerrors.DuplicatePendingOrder()
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
	view := NewOrderView(order)
	return &view, nil
}

func duplicatePending(existingID uuid.UUID) error {
	return pkgerrors.DuplicatePendingOrder().
		WithDetails(map[string]any{"order_id": existingID.String()})
}

func (s *Service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.load(ctx, s.repo, orderID, false)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
	}
	view := NewOrderView(order)
	return &view, nil
}

// List pages through orders newest first. Customers only ever see their own.
func (s *Service) List(ctx context.Context, actor Actor, params ListParams) (*ListResult, error) {
	query := listQuery{status: params.Status}
	switch {
	case actor.IsStaff(), actor.IsSystem():
	case actor.Role == enums.ActorRoleCustomer && actor.UserID != uuid.Nil:
		customerID := actor.UserID
		query.customerID = &customerID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "orders not accessible")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cursor is not valid")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	query.cursor = cursor
	query.limit = limit + 1

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	rows, next := pagination.Page(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	result := &ListResult{Orders: make([]OrderView, 0, len(rows)), NextCursor: next}
	for i := range rows {
		result.Orders = append(result.Orders, NewOrderView(&rows[i]))
	}
	return result, nil
}

// AddOrCombineLine adds quantity of productID to a pending order. The
// product's price is read from the catalog only when the line is new.
func (s *Service) AddOrCombineLine(ctx context.Context, actor Actor, orderID, productID uuid.UUID, quantity int) (*LineResult, error) {
	var order *models.Order
	var line models.OrderLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.lockEditable(ctx, repo, orderID, actor)
		if err != nil {
			return err
		}

		var change LineChange
		if _, exists := order.Line(productID); exists {
			change, err = AddOrCombineLine(order, productID, quantity, pricing.PriceFact{})
		} else {
			if quantity < 1 {
				return pkgerrors.InvalidQuantity("quantity must be >= 1, got %d", quantity)
			}
			fact, ferr := s.prices.GetProductPrice(ctx, tx, productID)
			if ferr != nil {
				return ferr
			}
			change, err = AddOrCombineLine(order, productID, quantity, fact)
		}
		if err != nil {
			return err
		}
		line = *change.Line
		return s.persistLine(ctx, repo, order, change)
	})
	if err != nil {
		return nil, err
	}
	return s.lineResult(ctx, order, line), nil
}

// UpdateLineQuantity sets the quantity of an existing line.
func (s *Service) UpdateLineQuantity(ctx context.Context, actor Actor, orderID, productID uuid.UUID, quantity int) (*LineResult, error) {
	var order *models.Order
	var line models.OrderLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.lockEditable(ctx, repo, orderID, actor)
		if err != nil {
			return err
		}
		change, err := UpdateLineQuantity(order, productID, quantity)
		if err != nil {
			return err
		}
		line = *change.Line
		return s.persistLine(ctx, repo, order, change)
	})
	if err != nil {
		return nil, err
	}
	return s.lineResult(ctx, order, line), nil
}

func (s *Service) RemoveLine(ctx context.Context, actor Actor, orderID, productID uuid.UUID) (*OrderView, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.lockEditable(ctx, repo, orderID, actor)
		if err != nil {
			return err
		}
		change, err := RemoveLine(order, productID)
		if err != nil {
			return err
		}
		return s.persistLine(ctx, repo, order, change)
	})
	if err != nil {
		return nil, err
	}
	view := NewOrderView(order)
	return &view, nil
}

// Delete removes an order outright. Staff only, and never once money has
// been taken for it; such orders are cancelled instead.
func (s *Service) Delete(ctx context.Context, actor Actor, orderID uuid.UUID) error {
	if !actor.IsStaff() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only staff can delete orders")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.load(ctx, repo, orderID, true); err != nil {
			return err
		}
		paid, err := repo.HasSucceededPayment(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order payments")
		}
		if paid {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, pkgerrors.ErrOrderHasPayment, "order has a succeeded payment; cancel it instead")
		}
		if err := repo.Delete(ctx, orderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "order deleted")
	return nil
}

// LockTx loads the order with its lines and holds its row lock for the
// rest of tx.
func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	return s.load(ctx, s.repo.WithTx(tx), orderID, true)
}

// ApplyTransitionTx moves a locked order to target and persists the status.
// The returned effect must be applied within the same tx.
func (s *Service) ApplyTransitionTx(ctx context.Context, tx *gorm.DB, order *models.Order, target enums.OrderStatus, actor Actor) (Effect, error) {
	from := order.Status
	effect, err := Transition(order, target, actor, s.now())
	if err != nil {
		return EffectNone, err
	}
	if err := s.repo.WithTx(tx).UpdateStatus(ctx, order); err != nil {
		return EffectNone, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"from":  from,
		"to":    target,
		"actor": actor.Role,
	}), "order status changed")
	return effect, nil
}

// HasSucceededPaymentTx reports whether a succeeded attempt is on record.
func (s *Service) HasSucceededPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	paid, err := s.repo.WithTx(tx).HasSucceededPayment(ctx, orderID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order payments")
	}
	return paid, nil
}

// StalePending lists pending orders untouched since cutoff.
func (s *Service) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.repo.ListPendingBefore(ctx, cutoff, pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale pending orders")
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (s *Service) load(ctx context.Context, repo Repository, orderID uuid.UUID, lock bool) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if lock {
		order, err = repo.FindForUpdate(ctx, orderID)
	} else {
		order, err = repo.Find(ctx, orderID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.OrderNotFound()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// lockEditable locks the order and checks the actor may change its lines.
func (s *Service) lockEditable(ctx context.Context, repo Repository, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.load(ctx, repo, orderID, true)
	if err != nil {
		return nil, err
	}
	if !actor.OwnsOrder(order) && !actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
	}
	return order, nil
}

func (s *Service) persistLine(ctx context.Context, repo Repository, order *models.Order, change LineChange) error {
	var err error
	switch {
	case change.Removed:
		err = repo.DeleteLine(ctx, order.ID, change.Line.ProductID)
	case change.Created:
		err = repo.InsertLine(ctx, change.Line)
	default:
		err = repo.UpdateLine(ctx, change.Line)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order line")
	}
	if err := repo.UpdateTotals(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order totals")
	}
	return nil
}

// lineResult attaches the stock advisory. A failed lookup only drops the
// warning.
func (s *Service) lineResult(ctx context.Context, order *models.Order, line models.OrderLine) *LineResult {
	result := &LineResult{Order: NewOrderView(order)}
	warning, err := s.stock.Advise(ctx, order.StoreID, line.ProductID, line.Quantity)
	if err != nil {
		s.logg.Warn(s.logg.WithField(s.logg.WithOrderID(ctx, order.ID.String()), "product_id", line.ProductID.String()), "stock advisory unavailable")
		return result
	}
	result.StockWarning = warning
	return result
}
