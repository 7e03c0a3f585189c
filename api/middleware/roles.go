package middleware

import (
	"net/http"
	"slices"

	"github.com/lmdrive/drive-backend/api/responses"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

// RequireRole admits callers holding one of roles. It runs after Auth.
func RequireRole(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := IdentityFrom(r.Context()); ok && slices.Contains(roles, id.Role) {
				next.ServeHTTP(w, r)
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "requires role %v", roles))
		})
	}
}
