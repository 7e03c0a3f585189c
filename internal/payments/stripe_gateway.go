package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/lmdrive/drive-backend/internal/pricing"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgstripe "github.com/lmdrive/drive-backend/pkg/stripe"
)

type stripeGateway struct {
	api *stripe.Client
}

// NewStripeGateway charges through PaymentIntents with the given client.
func NewStripeGateway(client *pkgstripe.Client) (Gateway, error) {
	if client == nil || client.API() == nil {
		return nil, errors.New("stripe client required")
	}
	return &stripeGateway{api: client.API()}, nil
}

func (g *stripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(pricing.MinorUnits(req.Amount)),
		Currency:           stripe.String(req.Currency.String()),
		PaymentMethod:      stripe.String(req.PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
		Metadata: map[string]string{
			"order_id":    req.OrderID.String(),
			"customer_id": req.CustomerID.String(),
		},
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	intent, err := g.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			result := &ChargeResult{
				Outcome:       enums.PaymentOutcomeFailed,
				FailureReason: string(stripeErr.Code),
			}
			if stripeErr.PaymentIntent != nil {
				result.ExternalReference = stripeErr.PaymentIntent.ID
			}
			return result, nil
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return resultFromIntent(intent), nil
}

func (g *stripeGateway) Refund(ctx context.Context, externalReference, reason string) error {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(externalReference),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		Metadata:      map[string]string{"reason": reason},
	}
	params.IdempotencyKey = stripe.String("refund:" + externalReference)
	if _, err := g.api.V1Refunds.Create(ctx, params); err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

func resultFromIntent(intent *stripe.PaymentIntent) *ChargeResult {
	result := &ChargeResult{
		ExternalReference: intent.ID,
		Outcome:           OutcomeFromIntent(intent),
		ClientSecret:      intent.ClientSecret,
	}
	if result.Outcome == enums.PaymentOutcomeFailed {
		result.FailureReason = string(intent.Status)
		if intent.LastPaymentError != nil && intent.LastPaymentError.Code != "" {
			result.FailureReason = string(intent.LastPaymentError.Code)
		}
	}
	return result
}

// OutcomeFromIntent maps a PaymentIntent status onto the signal outcome.
// Processing is treated as requiring action: the final answer arrives by webhook.
func OutcomeFromIntent(intent *stripe.PaymentIntent) enums.PaymentOutcome {
	if intent == nil {
		return enums.PaymentOutcomeFailed
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return enums.PaymentOutcomeSucceeded
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusProcessing:
		return enums.PaymentOutcomeRequiresAction
	default:
		return enums.PaymentOutcomeFailed
	}
}
