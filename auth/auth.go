// Package auth gates protocol operations on the caller's identity. The core
// treats authorization as an opaque predicate evaluated at the boundary,
// before a query resolves or a mutation dispatches; this package supplies
// the predicate interface, a role-based policy implementation, and JWT
// token handling that maps claims to identities.
package auth

import (
	"fmt"

	"github.com/c360/relaykit/errors"
)

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Anonymous is the identity of an unauthenticated caller.
var Anonymous = Identity{}

// Authorizer decides whether an identity may perform an operation.
// Implementations return nil to allow, or an error wrapping
// errors.ErrUnauthorized to deny.
type Authorizer interface {
	Authorize(operation string, identity Identity) error
}

// AllowAll authorizes every operation. Used for embedded and test setups.
type AllowAll struct{}

// Authorize implements Authorizer.
func (AllowAll) Authorize(string, Identity) error { return nil }

// RolePolicy authorizes operations by required role. Operations absent from
// the policy are open to any caller, including anonymous ones.
type RolePolicy struct {
	rules map[string][]string
}

// NewRolePolicy builds a policy from operation name to the roles allowed to
// perform it.
func NewRolePolicy(rules map[string][]string) *RolePolicy {
	copied := make(map[string][]string, len(rules))
	for op, roles := range rules {
		copied[op] = append([]string(nil), roles...)
	}
	return &RolePolicy{rules: copied}
}

// Authorize implements Authorizer.
func (p *RolePolicy) Authorize(operation string, identity Identity) error {
	required, restricted := p.rules[operation]
	if !restricted {
		return nil
	}
	for _, role := range required {
		if identity.HasRole(role) {
			return nil
		}
	}
	return errors.WrapInvalid(errors.ErrUnauthorized, "RolePolicy", "Authorize",
		fmt.Sprintf("operation %q requires one of %v", operation, required))
}
