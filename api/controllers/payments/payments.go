package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/api/middleware"
	"github.com/lmdrive/drive-backend/api/responses"
	"github.com/lmdrive/drive-backend/api/validators"
	"github.com/lmdrive/drive-backend/internal/checkout"
	"github.com/lmdrive/drive-backend/internal/orders"
	internalpayments "github.com/lmdrive/drive-backend/internal/payments"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

const maxPaymentMethodLen = 255

// CheckoutService charges orders and reports their payment history.
type CheckoutService interface {
	Charge(ctx context.Context, actor orders.Actor, orderID uuid.UUID, input checkout.ChargeInput) (*checkout.ChargeResult, error)
	ListPayments(ctx context.Context, actor orders.Actor, orderID uuid.UUID) ([]internalpayments.AttemptView, error)
}

type chargeRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

// Charge pays a pending order. The request's Idempotency-Key is forwarded
// to the gateway so a retried charge never creates a second payment.
func Charge(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload chargeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Charge(r.Context(), actor, orderID, checkout.ChargeInput{
			PaymentMethodID: validators.Clean(payload.PaymentMethodID, maxPaymentMethodLen),
			IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// List returns every payment attempt recorded for the order, oldest first.
func List(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attempts, err := svc.ListPayments(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"payments": attempts})
	}
}

func actorAndOrder(r *http.Request) (orders.Actor, uuid.UUID, error) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		return orders.Actor{}, uuid.Nil, err
	}
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return orders.Actor{}, uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return orders.Actor{}, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return actor, orderID, nil
}
