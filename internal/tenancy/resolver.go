package tenancy

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Store supplies users and memberships. Read-only from the resolver's point
// of view.
type Store interface {
	FindUser(ctx context.Context, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	Memberships(ctx context.Context, userID string) ([]Membership, error)
}

// Resolver turns raw membership data plus an optional requested-tenant hint
// into one authoritative SecurityContext. It holds no mutable state and is
// safe for concurrent use.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("tenancy store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve builds the security context for one request.
//
// When requestedTenantID is empty the active tenant defaults to the active
// membership with the lowest tenant id. That ordering is deliberate: no
// "last used tenant" state is kept anywhere, so the default must be stable
// across requests against an unchanged membership set.
func (r *Resolver) Resolve(ctx context.Context, userID, requestedTenantID string) (SecurityContext, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SecurityContext{}, ErrUserNotFound
	}
	requestedTenantID = strings.TrimSpace(requestedTenantID)

	user, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return SecurityContext{}, err
	}
	if user.Status != UserStatusActive {
		return SecurityContext{}, ErrUserInactive
	}

	memberships, err := r.store.Memberships(ctx, userID)
	if err != nil {
		return SecurityContext{}, err
	}

	tenants := activeTenants(memberships)
	if len(tenants) == 0 && !user.GlobalRole.CrossTenant() {
		return SecurityContext{}, ErrNoTenantAccess
	}

	sctx := SecurityContext{
		UserID:  user.ID,
		Tenants: tenants,
	}

	if requestedTenantID != "" {
		tr, ok := lookupTenant(tenants, requestedTenantID)
		if !ok {
			// A cross-tenant global role may enter any tenant; everyone
			// else is confined to their memberships.
			if !user.GlobalRole.CrossTenant() {
				return SecurityContext{}, ErrTenantNotAuthorized
			}
			sctx.ActiveTenant = requestedTenantID
			sctx.EffectiveRole = user.GlobalRole
			return sctx, nil
		}
		sctx.ActiveTenant = tr.TenantID
		sctx.EffectiveRole = MaxRole(tr.Role, user.GlobalRole)
		return sctx, nil
	}

	if len(tenants) == 0 {
		// Cross-tenant user with no memberships and no hint: authenticated
		// but not scoped to any tenant.
		sctx.EffectiveRole = user.GlobalRole
		return sctx, nil
	}

	first := tenants[0]
	sctx.ActiveTenant = first.TenantID
	sctx.EffectiveRole = MaxRole(first.Role, user.GlobalRole)
	return sctx, nil
}

// activeTenants filters out inactive memberships and returns the remainder
// sorted by tenant id ascending.
func activeTenants(memberships []Membership) []TenantRole {
	tenants := make([]TenantRole, 0, len(memberships))
	for _, m := range memberships {
		if !m.Active {
			continue
		}
		tenants = append(tenants, TenantRole{TenantID: m.TenantID, Role: m.Role})
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].TenantID < tenants[j].TenantID })
	return tenants
}

func lookupTenant(tenants []TenantRole, tenantID string) (TenantRole, bool) {
	for _, t := range tenants {
		if t.TenantID == tenantID {
			return t, true
		}
	}
	return TenantRole{}, false
}
