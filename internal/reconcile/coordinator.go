// Package reconcile settles payment signals against orders and stock. It is
// the only place that reserves stock and confirms orders together.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/internal/payments"
	"github.com/lmdrive/drive-backend/internal/pricing"
	"github.com/lmdrive/drive-backend/internal/stock"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	"github.com/lmdrive/drive-backend/pkg/outbox"
	"github.com/lmdrive/drive-backend/pkg/outbox/payloads"
)

const (
	defaultTimeout  = 5 * time.Second
	settleSavePoint = "settle"
)

// Failure reasons stored on attempts the coordinator rejected after the
// gateway took the money. A later signal for the same reference is ignored.
const (
	ReasonStockUnavailable = "stock_unavailable"
	ReasonAmountMismatch   = "amount_mismatch"
	ReasonOrderNotPayable  = "order_not_payable"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderStore interface {
	LockTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	HasSucceededPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
	ApplyTransitionTx(ctx context.Context, tx *gorm.DB, order *models.Order, target enums.OrderStatus, actor orders.Actor) (orders.Effect, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Signal is a payment gateway outcome for an order, delivered either by the
// synchronous charge call or by a webhook.
type Signal struct {
	OrderID           uuid.UUID
	ExternalReference string
	Amount            decimal.Decimal
	Currency          enums.Currency
	Outcome           enums.PaymentOutcome
	FailureReason     string
}

// Options tunes the coordinator. Zero values fall back to defaults.
type Options struct {
	Timeout  time.Duration
	Currency enums.Currency
	Metrics  *metrics.ReconcileMetrics
}

type Coordinator struct {
	tx       txRunner
	orders   orderStore
	stock    stock.Ledger
	attempts payments.Repository
	outbox   outboxPublisher
	logg     *logger.Logger
	metrics  *metrics.ReconcileMetrics
	timeout  time.Duration
	currency enums.Currency
}

func NewCoordinator(tx txRunner, orderSvc orderStore, ledger stock.Ledger, attempts payments.Repository, publisher outboxPublisher, logg *logger.Logger, opts Options) (*Coordinator, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order store required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("payment attempts repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Currency == "" {
		opts.Currency = enums.CurrencyEUR
	}
	return &Coordinator{
		tx:       tx,
		orders:   orderSvc,
		stock:    ledger,
		attempts: attempts,
		outbox:   publisher,
		logg:     logg,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		currency: opts.Currency,
	}, nil
}

// RequiresRefund reports whether err means the gateway kept money for an
// order that was not confirmed.
func RequiresRefund(err error) bool {
	return errors.Is(err, pkgerrors.ErrStockUnavailable) ||
		errors.Is(err, pkgerrors.ErrAmountMismatch) ||
		errors.Is(err, pkgerrors.ErrOrderNotPayable)
}

// RefundReason names the rejection behind err, for refund metadata.
func RefundReason(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrStockUnavailable):
		return ReasonStockUnavailable
	case errors.Is(err, pkgerrors.ErrAmountMismatch):
		return ReasonAmountMismatch
	}
	return ReasonOrderNotPayable
}

// Reconcile applies a payment signal to its order. Repeated signals for a
// settled order return the current state without touching stock again.
func (c *Coordinator) Reconcile(ctx context.Context, sig Signal) (*orders.OrderView, error) {
	started := time.Now()
	if sig.Currency == "" {
		sig.Currency = c.currency
	}
	if err := validateSignal(sig); err != nil {
		return nil, err
	}

	ctx = c.logg.WithFields(c.logg.WithOrderID(ctx, sig.OrderID.String()), map[string]any{
		"payment_outcome":    sig.Outcome,
		"external_reference": sig.ExternalReference,
	})
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		order    *models.Order
		result   string
		rejected error
	)
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = c.orders.LockTx(ctx, tx, sig.OrderID)
		if err != nil {
			return err
		}

		noop, err := c.alreadySettled(ctx, tx, order, sig)
		if err != nil {
			return err
		}
		if noop {
			result = metrics.ReconcileNoOp
			return nil
		}

		if sig.Outcome != enums.PaymentOutcomeSucceeded {
			result = metrics.ReconcileRecorded
			return c.recordUnpaid(ctx, tx, order, sig)
		}

		if err := tx.SavePoint(settleSavePoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open settle savepoint")
		}
		failedProduct, err := c.settle(ctx, tx, order, sig)
		if err == nil {
			result = metrics.ReconcileConfirmed
			return nil
		}
		if !RequiresRefund(err) {
			return err
		}
		// The rejection commits under the order lock so a duplicate
		// delivery always sees it.
		if rbErr := tx.RollbackTo(settleSavePoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "roll back settle savepoint")
		}
		rejected, result = err, rejectionResult(err)
		return c.recordRejection(ctx, tx, order, sig, failedProduct, err)
	})
	if err != nil {
		c.logg.Error(ctx, "reconcile failed", err)
		c.metrics.Observe(string(sig.Outcome), metrics.ReconcileError, time.Since(started))
		return nil, err
	}

	c.metrics.Observe(string(sig.Outcome), result, time.Since(started))
	if rejected != nil {
		c.logg.Warn(ctx, "payment rejected at settlement, refund required")
		return nil, rejected
	}
	switch result {
	case metrics.ReconcileNoOp:
		c.logg.Info(ctx, "payment signal already settled")
	case metrics.ReconcileConfirmed:
		c.logg.Info(ctx, "order confirmed by payment")
	default:
		c.logg.Info(ctx, "payment attempt recorded")
	}
	view := orders.NewOrderView(order)
	return &view, nil
}

func validateSignal(sig Signal) error {
	switch {
	case sig.OrderID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	case sig.ExternalReference == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "external reference required")
	case !sig.Outcome.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment outcome %q", sig.Outcome))
	case !sig.Currency.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", sig.Currency))
	case sig.Amount.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be >= 0")
	}
	return nil
}

// alreadySettled decides whether the signal was handled before.
func (c *Coordinator) alreadySettled(ctx context.Context, tx *gorm.DB, order *models.Order, sig Signal) (bool, error) {
	paid, err := c.orders.HasSucceededPaymentTx(ctx, tx, order.ID)
	if err != nil {
		return false, err
	}
	if paid && isSettledStatus(order.Status) {
		return true, nil
	}

	existing, err := c.attempts.FindByExternalReference(ctx, tx, sig.ExternalReference)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}
	if existing == nil {
		return false, nil
	}
	if existing.OrderID != order.ID {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "external reference belongs to another order")
	}
	switch existing.Status {
	case enums.PaymentAttemptSucceeded:
		return true, nil
	case enums.PaymentAttemptFailed:
		return existing.FailureReason != nil && isRejection(*existing.FailureReason), nil
	}
	return false, nil
}

func isSettledStatus(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusConfirmed, enums.OrderStatusReady, enums.OrderStatusFulfilled:
		return true
	}
	return false
}

func isRejection(reason string) bool {
	switch reason {
	case ReasonStockUnavailable, ReasonAmountMismatch, ReasonOrderNotPayable:
		return true
	}
	return false
}

// recordUnpaid stores a failed or requires_action attempt. Stock and order
// status are left alone.
func (c *Coordinator) recordUnpaid(ctx context.Context, tx *gorm.DB, order *models.Order, sig Signal) error {
	attempt := newAttempt(order.ID, sig, sig.Outcome.AttemptStatus())
	if sig.FailureReason != "" {
		attempt.FailureReason = &sig.FailureReason
	}
	if err := c.attempts.Save(ctx, tx, attempt); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment attempt")
	}
	if sig.Outcome != enums.PaymentOutcomeFailed {
		return nil
	}
	return c.emitPaymentFailed(ctx, tx, order, attempt)
}

// settle reserves every line, records the succeeded attempt and confirms the
// order. On a stock-out it returns the offending product alongside the error.
// Rejections are returned before the order row is touched.
func (c *Coordinator) settle(ctx context.Context, tx *gorm.DB, order *models.Order, sig Signal) (*uuid.UUID, error) {
	if order.Status != enums.OrderStatusPending || len(order.Lines) == 0 {
		return nil, pkgerrors.OrderNotPayable(order.Status.String())
	}
	if sig.Currency != c.currency || !pricing.Round(sig.Amount).Equal(pricing.Round(order.TotalInclTax)) {
		return nil, pkgerrors.AmountMismatch(
			fmt.Sprintf("%s %s", order.TotalInclTax.StringFixed(2), c.currency),
			fmt.Sprintf("%s %s", sig.Amount.StringFixed(2), sig.Currency),
		)
	}

	ledger := c.stock.WithTx(tx)
	for _, line := range sortedLines(order.Lines) {
		if err := ledger.Reserve(ctx, order.StoreID, line.ProductID, line.Quantity); err != nil {
			if errors.Is(err, pkgerrors.ErrInsufficientStock) || errors.Is(err, pkgerrors.ErrStockNotFound) {
				productID := line.ProductID
				return &productID, pkgerrors.StockUnavailable(productID.String())
			}
			return nil, err
		}
	}

	attempt := newAttempt(order.ID, sig, enums.PaymentAttemptSucceeded)
	if err := c.attempts.Save(ctx, tx, attempt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment attempt")
	}

	from := order.Status
	if _, err := c.orders.ApplyTransitionTx(ctx, tx, order, enums.OrderStatusConfirmed, orders.SystemActor()); err != nil {
		return nil, err
	}
	return nil, c.emitStatusChanged(ctx, tx, order, from, orders.SystemActor(), false)
}

func rejectionResult(err error) string {
	switch RefundReason(err) {
	case ReasonStockUnavailable:
		return metrics.ReconcileStockOut
	case ReasonAmountMismatch:
		return metrics.ReconcileAmountInvalid
	}
	return metrics.ReconcileNotPayable
}

// recordRejection stores the failed attempt for money the gateway already
// took, with a stock-out or payment-failed event.
func (c *Coordinator) recordRejection(ctx context.Context, tx *gorm.DB, order *models.Order, sig Signal, failedProduct *uuid.UUID, cause error) error {
	reason := RefundReason(cause)
	attempt := newAttempt(order.ID, sig, enums.PaymentAttemptFailed)
	attempt.FailureReason = &reason
	attempt.FailedProductID = failedProduct
	if err := c.attempts.Save(ctx, tx, attempt); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record rejected payment attempt")
	}
	if failedProduct == nil {
		return c.emitPaymentFailed(ctx, tx, order, attempt)
	}

	c.logg.Warn(c.logg.WithField(ctx, "product_id", failedProduct.String()), "stock out at payment")
	err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockOut,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(orders.SystemActor()),
		Data: payloads.StockOutEvent{
			OrderID:           order.ID,
			StoreID:           order.StoreID,
			ProductID:         *failedProduct,
			ExternalReference: sig.ExternalReference,
			Amount:            sig.Amount.StringFixed(2),
			Currency:          sig.Currency.String(),
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue stock-out event")
	}
	return nil
}

// Transition moves an order on behalf of actor and applies the transition's
// stock effect in the same transaction.
func (c *Coordinator) Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor orders.Actor) (*orders.OrderView, error) {
	ctx = c.logg.WithOrderID(ctx, orderID.String())
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var order *models.Order
	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = c.orders.LockTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanView(order) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order not accessible")
		}

		from := order.Status
		effect, err := c.orders.ApplyTransitionTx(ctx, tx, order, target, actor)
		if err != nil {
			return err
		}
		restocked := effect == orders.EffectRestock
		if restocked {
			if err := c.restockLines(ctx, tx, order); err != nil {
				return err
			}
		}
		return c.emitStatusChanged(ctx, tx, order, from, actor, restocked)
	})
	if err != nil {
		return nil, err
	}
	view := orders.NewOrderView(order)
	return &view, nil
}

func (c *Coordinator) restockLines(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	ledger := c.stock.WithTx(tx)
	orderID := order.ID
	for _, line := range sortedLines(order.Lines) {
		if err := ledger.Restock(ctx, order.StoreID, line.ProductID, line.Quantity); err != nil {
			return err
		}
		err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockRestocked,
			AggregateType: enums.AggregateStockRecord,
			AggregateID:   line.ProductID,
			Data: payloads.StockRestockedEvent{
				StoreID:   order.StoreID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				OrderID:   &orderID,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue restock event")
		}
	}
	c.logg.Info(c.logg.WithField(ctx, "lines", len(order.Lines)), "order lines restocked")
	return nil
}

func (c *Coordinator) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus, actor orders.Actor, restocked bool) error {
	eventType, ok := enums.EventForStatus(order.Status)
	if !ok {
		return nil
	}
	err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:      order.ID,
			CustomerID:   order.CustomerID,
			StoreID:      order.StoreID,
			From:         from,
			To:           order.Status,
			TotalInclTax: order.TotalInclTax.StringFixed(2),
			Restocked:    restocked,
			ChangedAt:    time.Now().UTC(),
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order event")
	}
	return nil
}

func (c *Coordinator) emitPaymentFailed(ctx context.Context, tx *gorm.DB, order *models.Order, attempt *models.PaymentAttempt) error {
	data := payloads.PaymentFailedEvent{
		OrderID:   order.ID,
		AttemptID: attempt.ID,
		Status:    attempt.Status,
	}
	if attempt.ExternalReference != nil {
		data.ExternalReference = *attempt.ExternalReference
	}
	if attempt.FailureReason != nil {
		data.Reason = *attempt.FailureReason
	}
	err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(orders.SystemActor()),
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payment event")
	}
	return nil
}

func newAttempt(orderID uuid.UUID, sig Signal, status enums.PaymentAttemptStatus) *models.PaymentAttempt {
	reference := sig.ExternalReference
	return &models.PaymentAttempt{
		OrderID:           orderID,
		Amount:            sig.Amount,
		Currency:          sig.Currency,
		ExternalReference: &reference,
		Status:            status,
	}
}

// sortedLines orders lines by product id so concurrent settlements lock
// stock rows in the same order.
func sortedLines(lines []models.OrderLine) []models.OrderLine {
	sorted := make([]models.OrderLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})
	return sorted
}

func actorRef(actor orders.Actor) *outbox.ActorRef {
	ref := &outbox.ActorRef{Role: actor.Role.String()}
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		ref.UserID = &id
	}
	return ref
}
