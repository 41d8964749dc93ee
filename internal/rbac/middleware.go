package rbac

import (
	"fmt"
	"net/http"
)

func forbid(w http.ResponseWriter, role string) {
	w.Header().Set("Content-Type", "application/json")
	if role == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprintln(w, `{"error":"unauthorized"}`)
		return
	}
	w.WriteHeader(http.StatusForbidden)
	_, _ = fmt.Fprintln(w, `{"error":"forbidden"}`)
}

// guard lets the request through when allowed(role) holds; a missing
// identity is answered with 401, a missing permission with 403.
func guard(allowed func(role string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" || !allowed(role) {
				forbid(w, role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require enforces a single permission.
func Require(perm string) func(http.Handler) http.Handler {
	return guard(func(role string) bool { return defaultChecker.Has(role, perm) })
}

// RequireAny enforces that the role has at least one of the permissions.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(func(role string) bool { return defaultChecker.Any(role, perms...) })
}

// RequireAll enforces that the role has all of the permissions.
func RequireAll(perms ...string) func(http.Handler) http.Handler {
	return guard(func(role string) bool { return defaultChecker.All(role, perms...) })
}
