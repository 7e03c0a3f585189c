package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/internal/reconcile"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

const orderIDMetadataKey = "order_id"

type reconciler interface {
	Reconcile(ctx context.Context, sig reconcile.Signal) (*orders.OrderView, error)
}

type refunder interface {
	Refund(ctx context.Context, externalReference, reason string) error
}

type ServiceParams struct {
	Reconciler reconciler
	Refunder   refunder
	Logger     *logger.Logger
}

// Service turns PaymentIntent events into payment signals.
type Service struct {
	coord  reconciler
	refund refunder
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Refunder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refunder required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{coord: params.Reconciler, refund: params.Refunder, logg: params.Logger}, nil
}

// HandleEvent reconciles the PaymentIntent carried by event. Errors that a
// redelivery cannot fix are logged and acknowledged.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var outcome enums.PaymentOutcome
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		outcome = enums.PaymentOutcomeSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		outcome = enums.PaymentOutcomeFailed
	case stripe.EventTypePaymentIntentRequiresAction:
		outcome = enums.PaymentOutcomeRequiresAction
	default:
		return nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":    event.ID,
		"external_reference": intent.ID,
	})

	sig, err := signalFromIntent(&intent, outcome)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "payment intent not linked to an order")
		return nil
	}

	_, err = s.coord.Reconcile(ctx, sig)
	switch {
	case err == nil:
		return nil
	case reconcile.RequiresRefund(err):
		if rerr := s.refund.Refund(ctx, sig.ExternalReference, reconcile.RefundReason(err)); rerr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rerr, "refund rejected payment")
		}
		s.logg.Info(ctx, "rejected payment refunded")
		return nil
	case permanent(err):
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "payment event acknowledged without effect")
		return nil
	default:
		return err
	}
}

// permanent reports errors a redelivery of the same event cannot fix.
func permanent(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeConflict, pkgerrors.CodeStateConflict, pkgerrors.CodeForbidden:
		return true
	}
	return false
}

func signalFromIntent(intent *stripe.PaymentIntent, outcome enums.PaymentOutcome) (reconcile.Signal, error) {
	if intent.ID == "" {
		return reconcile.Signal{}, fmt.Errorf("payment intent id missing")
	}
	rawOrderID := intent.Metadata[orderIDMetadataKey]
	if rawOrderID == "" {
		return reconcile.Signal{}, fmt.Errorf("metadata %s missing", orderIDMetadataKey)
	}
	orderID, err := uuid.Parse(rawOrderID)
	if err != nil {
		return reconcile.Signal{}, fmt.Errorf("metadata %s invalid: %w", orderIDMetadataKey, err)
	}
	currency, err := enums.ParseCurrency(string(intent.Currency))
	if err != nil {
		return reconcile.Signal{}, err
	}

	minor := intent.Amount
	if outcome == enums.PaymentOutcomeSucceeded && intent.AmountReceived > 0 {
		minor = intent.AmountReceived
	}
	sig := reconcile.Signal{
		OrderID:           orderID,
		ExternalReference: intent.ID,
		Amount:            decimal.New(minor, -2),
		Currency:          currency,
		Outcome:           outcome,
	}
	if intent.LastPaymentError != nil {
		sig.FailureReason = string(intent.LastPaymentError.Code)
		if sig.FailureReason == "" {
			sig.FailureReason = intent.LastPaymentError.Msg
		}
	}
	return sig, nil
}
