package orders

import (
	"fmt"
	"time"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

// Effect is the stock side effect a transition asks its caller to apply.
type Effect int

const (
	EffectNone Effect = iota
	// EffectRestock returns every line's quantity to the store.
	EffectRestock
)

type edge struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

type rule struct {
	allowed func(actor Actor, order *models.Order) bool
	effect  Effect
}

func systemOnly(actor Actor, _ *models.Order) bool { return actor.IsSystem() }

func staffOnly(actor Actor, _ *models.Order) bool { return actor.IsStaff() }

func staffOrSystem(actor Actor, _ *models.Order) bool { return actor.IsStaff() || actor.IsSystem() }

func ownerStaffOrSystem(actor Actor, order *models.Order) bool {
	return actor.IsStaff() || actor.IsSystem() || actor.OwnsOrder(order)
}

var rules = map[edge]rule{
	{enums.OrderStatusPending, enums.OrderStatusConfirmed}:   {allowed: systemOnly},
	{enums.OrderStatusPending, enums.OrderStatusCancelled}:   {allowed: ownerStaffOrSystem},
	{enums.OrderStatusConfirmed, enums.OrderStatusReady}:     {allowed: staffOnly},
	{enums.OrderStatusConfirmed, enums.OrderStatusCancelled}: {allowed: staffOnly, effect: EffectRestock},
	{enums.OrderStatusReady, enums.OrderStatusFulfilled}:     {allowed: staffOrSystem},
}

// CanTransition reports whether the edge exists, regardless of actor.
func CanTransition(from, to enums.OrderStatus) bool {
	_, ok := rules[edge{from, to}]
	return ok
}

// Transition moves order to target in memory, stamping the lifecycle
// timestamps. Unknown edges and actors without the privilege for the edge
// both fail with ErrInvalidStatusTransition; the latter carries CodeForbidden.
func Transition(order *models.Order, target enums.OrderStatus, actor Actor, now time.Time) (Effect, error) {
	if order == nil {
		return EffectNone, pkgerrors.OrderNotFound()
	}
	if !target.IsValid() {
		return EffectNone, pkgerrors.Wrap(pkgerrors.CodeValidation, pkgerrors.ErrInvalidStatusTransition, fmt.Sprintf("unknown order status %q", target))
	}
	from := order.Status
	r, ok := rules[edge{from, target}]
	if !ok {
		return EffectNone, pkgerrors.InvalidStatusTransition(from.String(), target.String())
	}
	if !r.allowed(actor, order) {
		return EffectNone, pkgerrors.Wrap(
			pkgerrors.CodeForbidden,
			pkgerrors.ErrInvalidStatusTransition,
			fmt.Sprintf("%s may not move order from %s to %s", actor.Role, from, target),
		)
	}

	at := now.UTC()
	order.Status = target
	switch target {
	case enums.OrderStatusConfirmed:
		order.ConfirmedAt = &at
	case enums.OrderStatusFulfilled:
		order.FulfilledAt = &at
	case enums.OrderStatusCancelled:
		order.CancelledAt = &at
	}
	return r.effect, nil
}
