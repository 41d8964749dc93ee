// internal/auth/middleware/attach_role.go
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/rbac"
)

// RoleLookup resolves the current role of a user id.
type RoleLookup interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

// AttachRoleFromDB replaces the role claim with the stored role so that role
// changes and deletions apply to tokens that are already issued.
func AttachRoleFromDB(users RoleLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)
			if sub == "" {
				next.ServeHTTP(w, r)
				return
			}
			role, err := users.RoleOf(ctx, sub)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case errors.Is(err, apperr.ErrNotFound):
				writeAuthError(w, http.StatusUnauthorized, "account no longer exists")
			default:
				code := apperr.Status(err)
				writeAuthError(w, code, http.StatusText(code))
			}
		})
	}
}
