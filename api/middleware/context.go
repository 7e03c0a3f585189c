package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

// Identity is the caller established by Auth.
type Identity struct {
	UserID  uuid.UUID
	Role    enums.ActorRole
	StoreID *uuid.UUID
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// callerID is the user id, or "" for anonymous requests.
func callerID(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok {
		return id.UserID.String()
	}
	return ""
}

// ActorFromContext turns the request identity into an order actor. Only
// token roles come out of here; the system actor is built by workers.
func ActorFromContext(ctx context.Context) (orders.Actor, error) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.UserID == uuid.Nil {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "request is not authenticated")
	}
	if !id.Role.IsTokenRole() {
		return orders.Actor{}, pkgerrors.Newf(pkgerrors.CodeUnauthorized, "role %q cannot act through the api", id.Role)
	}
	return orders.Actor{UserID: id.UserID, Role: id.Role}, nil
}
