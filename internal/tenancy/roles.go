package tenancy

import (
	"fmt"
	"strings"
)

// Role names a privilege level. Roles are totally ordered by the rank table
// below so precedence between a tenant-scoped role and a user's global role
// can always be decided.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleAgent      Role = "agent"
	RoleBroker     Role = "broker"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// roleRank is the explicit precedence table. Gaps leave room for future roles
// without renumbering.
var roleRank = map[Role]int{
	RoleViewer:     10,
	RoleAgent:      20,
	RoleBroker:     30,
	RoleAdmin:      40,
	RoleSuperAdmin: 100,
}

// ParseRole normalizes a role name. Unknown names are rejected rather than
// silently ranked at zero.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Rank returns the role's position in the total order. Unknown roles rank
// below every defined role.
func (r Role) Rank() int {
	return roleRank[r]
}

// Outranks reports whether r is strictly higher-privilege than other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

// CrossTenant reports whether the role grants access independent of tenant
// membership.
func (r Role) CrossTenant() bool {
	return r == RoleSuperAdmin
}

// MaxRole returns the higher-privilege of the two roles.
func MaxRole(a, b Role) Role {
	if b.Outranks(a) {
		return b
	}
	return a
}
