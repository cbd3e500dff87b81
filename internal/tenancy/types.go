package tenancy

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("tenancy: invalid input")

	// Request-rejection errors. None of these are retried; they map directly
	// to "not found" / "not authorized" outcomes at the edge.
	ErrUserNotFound        = errors.New("tenancy: user not found")
	ErrUserInactive        = errors.New("tenancy: user inactive")
	ErrNoTenantAccess      = errors.New("tenancy: no tenant access")
	ErrTenantNotAuthorized = errors.New("tenancy: tenant not authorized")
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is an identity with a global role. The global role is the user's
// highest privilege independent of any tenant.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GlobalRole   Role      `json:"global_role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Membership grants a user a role within one tenant. At most one row exists
// per (user, tenant); an inactive row grants nothing.
type Membership struct {
	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantRole is one entry in a SecurityContext's switchable-tenant list.
type TenantRole struct {
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}

// SecurityContext is the resolved view for one request: who is acting, in
// which tenant, with what effective role. It is built once per request and
// discarded at request end; membership may change between requests, so it is
// never cached.
type SecurityContext struct {
	UserID        string       `json:"user_id"`
	ActiveTenant  string       `json:"active_tenant,omitempty"`
	EffectiveRole Role         `json:"effective_role"`
	Tenants       []TenantRole `json:"tenants"`
}
