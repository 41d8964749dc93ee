package auth

import (
	"context"

	"github.com/mind-engage/psyportal/internal/rbac"
)

type ctxKey struct{}

var ctxKeySub = ctxKey{}

// WithSubject stores the authenticated user id.
func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

// SubjectFromContext returns the authenticated user id, or "" for anonymous requests.
func SubjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeySub).(string); ok {
		return s
	}
	return ""
}

// Identity is the caller as seen by handlers.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) Anonymous() bool { return i.UserID == "" }

// Can reports whether the caller's role grants perm.
func (i Identity) Can(perm string) bool {
	return i.Role != "" && rbac.Has(i.Role, perm)
}

func IdentityFromContext(ctx context.Context) Identity {
	return Identity{UserID: SubjectFromContext(ctx), Role: rbac.RoleFromContext(ctx)}
}
