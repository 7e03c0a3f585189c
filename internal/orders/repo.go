package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/pagination"
)

// Repository persists orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindPendingByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, query listQuery) ([]models.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	InsertLine(ctx context.Context, line *models.OrderLine) error
	UpdateLine(ctx context.Context, line *models.OrderLine) error
	DeleteLine(ctx context.Context, orderID, productID uuid.UUID) error
	UpdateTotals(ctx context.Context, order *models.Order) error
	UpdateStatus(ctx context.Context, order *models.Order) error
	HasSucceededPayment(ctx context.Context, orderID uuid.UUID) (bool, error)
	Delete(ctx context.Context, orderID uuid.UUID) error
}

type listQuery struct {
	customerID *uuid.UUID
	status     *enums.OrderStatus
	cursor     *pagination.Cursor
	limit      int
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(ctx, orderID, false)
}

// FindForUpdate locks the order row until the surrounding transaction ends.
// Every writer of an order goes through it first.
func (r *repository) FindForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(ctx, orderID, true)
}

func (r *repository) find(ctx context.Context, orderID uuid.UUID, lock bool) (*models.Order, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	if err := query.Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	lines, err := r.lines(r.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (r *repository) lines(query *gorm.DB, orderID uuid.UUID) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := query.
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("product_id ASC").
		Find(&lines).Error
	return lines, err
}

func (r *repository) FindPendingByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, enums.OrderStatusPending).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, opts listQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if opts.customerID != nil {
		query = query.Where("customer_id = ?", *opts.customerID)
	}
	if opts.status != nil {
		query = query.Where("status = ?", *opts.status)
	}
	if opts.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("created_at DESC").
		Order("id DESC").
		Limit(opts.limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusPending, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) InsertLine(ctx context.Context, line *models.OrderLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *repository) UpdateLine(ctx context.Context, line *models.OrderLine) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("order_id = ? AND product_id = ?", line.OrderID, line.ProductID).
		Updates(map[string]any{
			"quantity":            line.Quantity,
			"line_total_excl_tax": line.LineTotalExclTax,
			"line_total_incl_tax": line.LineTotalInclTax,
			"updated_at":          time.Now().UTC(),
		}).Error
}

func (r *repository) DeleteLine(ctx context.Context, orderID, productID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		Delete(&models.OrderLine{}).Error
}

func (r *repository) UpdateTotals(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"total_excl_tax": order.TotalExclTax,
			"total_incl_tax": order.TotalInclTax,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *repository) UpdateStatus(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":       order.Status,
			"confirmed_at": order.ConfirmedAt,
			"fulfilled_at": order.FulfilledAt,
			"cancelled_at": order.CancelledAt,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *repository) HasSucceededPayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentAttemptSucceeded).
		Count(&count).Error
	return count > 0, err
}

// Delete removes the order with its lines and any unsuccessful payment attempts.
func (r *repository) Delete(ctx context.Context, orderID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("order_id = ?", orderID).Delete(&models.PaymentAttempt{}).Error; err != nil {
		return err
	}
	if err := db.Where("order_id = ?", orderID).Delete(&models.OrderLine{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", orderID).Delete(&models.Order{}).Error
}
