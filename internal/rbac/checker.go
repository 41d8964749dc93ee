package rbac

import (
	"context"
	"strings"
)

// Checker answers permission questions for a role → permissions policy.
// A permission pattern is an exact name, "*", or a prefix ending in "*".
type Checker struct {
	policy map[string][]string
}

// NewChecker uses policy, or the portal's RolePermissions when nil.
func NewChecker(policy map[string][]string) *Checker {
	if policy == nil {
		policy = RolePermissions
	}
	return &Checker{policy: policy}
}

var defaultChecker = NewChecker(nil)

// Has reports whether role holds perm under the default policy.
func Has(role, perm string) bool { return defaultChecker.Has(role, perm) }

func (c *Checker) Has(role, perm string) bool {
	for _, p := range c.policy[role] {
		if matchPerm(p, perm) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

// All is false for an unknown role even when perms is empty.
func (c *Checker) All(role string, perms ...string) bool {
	if _, ok := c.policy[role]; !ok {
		return false
	}
	for _, p := range perms {
		if !c.Has(role, p) {
			return false
		}
	}
	return true
}

func matchPerm(pattern, perm string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(perm, prefix)
	}
	return pattern == perm
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFromContext returns "" when no identity is attached.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}
