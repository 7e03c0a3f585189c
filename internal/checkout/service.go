// Package checkout charges a pending order through the payment gateway and
// hands the gateway's answer to the reconciliation coordinator.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/internal/payments"
	"github.com/lmdrive/drive-backend/internal/reconcile"
	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

type orderReader interface {
	Get(ctx context.Context, actor orders.Actor, orderID uuid.UUID) (*orders.OrderView, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (*orders.OrderView, error)
}

// ChargeInput carries the customer's payment method and the client's
// Idempotency-Key, if any.
type ChargeInput struct {
	PaymentMethodID string
	IdempotencyKey  string
}

// ChargeResult is the order after reconciliation plus the recorded attempt.
// ClientSecret is set when the customer must complete an authentication step.
type ChargeResult struct {
	Order        orders.OrderView     `json:"order"`
	Payment      payments.AttemptView `json:"payment"`
	ClientSecret string               `json:"client_secret,omitempty"`
}

type Service struct {
	orders   orderReader
	attempts payments.Repository
	gateway  payments.Gateway
	coord    reconciler
	logg     *logger.Logger
	currency enums.Currency
}

func NewService(orderSvc orderReader, attempts payments.Repository, gateway payments.Gateway, coord reconciler, logg *logger.Logger, currency enums.Currency) (*Service, error) {
	if orderSvc == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("payment attempts repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if coord == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if currency == "" {
		currency = enums.CurrencyEUR
	}
	return &Service{
		orders:   orderSvc,
		attempts: attempts,
		gateway:  gateway,
		coord:    coord,
		logg:     logg,
		currency: currency,
	}, nil
}

// Charge pays the order's total. A declined card is reported in the result;
// a settlement rejection triggers a refund and is returned as an error.
func (s *Service) Charge(ctx context.Context, actor orders.Actor, orderID uuid.UUID, input ChargeInput) (*ChargeResult, error) {
	if strings.TrimSpace(input.PaymentMethodID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_method_id is required")
	}
	order, err := s.orders.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role != enums.ActorRoleCustomer || order.CustomerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the order's customer can pay for it")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, pkgerrors.ErrOrderNotPayable, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if len(order.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no lines")
	}
	amount, err := decimal.NewFromString(order.TotalInclTax)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse order total")
	}

	ctx = s.logg.WithOrderID(ctx, orderID.String())
	charge, err := s.gateway.Charge(ctx, payments.ChargeRequest{
		OrderID:         orderID,
		CustomerID:      actor.UserID,
		Amount:          amount,
		Currency:        s.currency,
		PaymentMethodID: input.PaymentMethodID,
		IdempotencyKey:  gatewayKey(orderID, input.IdempotencyKey),
	})
	if err != nil {
		s.logg.Error(ctx, "payment gateway charge failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "charge payment")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"external_reference": charge.ExternalReference,
		"payment_outcome":    charge.Outcome,
	})

	if charge.ExternalReference == "" {
		return s.declinedWithoutIntent(ctx, order, amount, charge)
	}

	pending := &models.PaymentAttempt{
		OrderID:           orderID,
		Amount:            amount,
		Currency:          s.currency,
		ExternalReference: &charge.ExternalReference,
		Status:            enums.PaymentAttemptPending,
	}
	if err := s.attempts.Save(ctx, nil, pending); err != nil {
		s.logg.Error(ctx, "record pending payment attempt", err)
	}

	settled, err := s.coord.Reconcile(ctx, reconcile.Signal{
		OrderID:           orderID,
		ExternalReference: charge.ExternalReference,
		Amount:            amount,
		Currency:          s.currency,
		Outcome:           charge.Outcome,
		FailureReason:     charge.FailureReason,
	})
	if err != nil {
		if reconcile.RequiresRefund(err) {
			s.refund(ctx, charge.ExternalReference, err)
		}
		return nil, err
	}

	attempt, err := s.attempts.FindByExternalReference(ctx, nil, charge.ExternalReference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}
	result := &ChargeResult{Order: *settled}
	if attempt != nil {
		result.Payment = payments.NewAttemptView(attempt)
	}
	if charge.Outcome == enums.PaymentOutcomeRequiresAction {
		result.ClientSecret = charge.ClientSecret
	}
	return result, nil
}

// declinedWithoutIntent records a card error for which the gateway created
// no intent, so there is no reference for the coordinator to settle.
func (s *Service) declinedWithoutIntent(ctx context.Context, order *orders.OrderView, amount decimal.Decimal, charge *payments.ChargeResult) (*ChargeResult, error) {
	attempt := &models.PaymentAttempt{
		OrderID:  order.ID,
		Amount:   amount,
		Currency: s.currency,
		Status:   enums.PaymentAttemptFailed,
	}
	if charge.FailureReason != "" {
		attempt.FailureReason = &charge.FailureReason
	}
	if err := s.attempts.Save(ctx, nil, attempt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment attempt")
	}
	s.logg.Info(ctx, "card declined before payment intent was created")
	return &ChargeResult{Order: *order, Payment: payments.NewAttemptView(attempt)}, nil
}

func (s *Service) refund(ctx context.Context, reference string, cause error) {
	reason := reconcile.RefundReason(cause)
	if err := s.gateway.Refund(ctx, reference, reason); err != nil {
		s.logg.Error(ctx, "compensating refund failed", err)
		return
	}
	s.logg.Info(s.logg.WithField(ctx, "refund_reason", reason), "compensating refund issued")
}

// ListPayments returns the order's attempts, oldest first, to its owner or staff.
func (s *Service) ListPayments(ctx context.Context, actor orders.Actor, orderID uuid.UUID) ([]payments.AttemptView, error) {
	if _, err := s.orders.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}
	rows, err := s.attempts.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment attempts")
	}
	views := make([]payments.AttemptView, 0, len(rows))
	for i := range rows {
		views = append(views, payments.NewAttemptView(&rows[i]))
	}
	return views, nil
}

// gatewayKey scopes the client's Idempotency-Key to the order so a replayed
// request never creates a second intent.
func gatewayKey(orderID uuid.UUID, clientKey string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return ""
	}
	return "charge:" + orderID.String() + ":" + clientKey
}
