package orders

import (
	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/pkg/db/models"
	"github.com/lmdrive/drive-backend/pkg/enums"
)

// Actor is whoever drives an order operation, as resolved at the boundary.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor is used for payment settlement and scheduled jobs.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

func (a Actor) IsStaff() bool {
	return a.Role == enums.ActorRoleStaff
}

func (a Actor) IsSystem() bool {
	return a.Role == enums.ActorRoleSystem
}

// OwnsOrder reports whether the actor is the order's customer.
func (a Actor) OwnsOrder(order *models.Order) bool {
	return order != nil &&
		a.Role == enums.ActorRoleCustomer &&
		a.UserID != uuid.Nil &&
		a.UserID == order.CustomerID
}

// CanView is true for the owner, staff and the system.
func (a Actor) CanView(order *models.Order) bool {
	return a.IsStaff() || a.IsSystem() || a.OwnsOrder(order)
}
