package httpapi

import (
	"net/http"
	"strings"

	"brokeris.org/internal/auth"
	"brokeris.org/internal/tenancy"
)

const tenantHeader = "X-Tenant-ID"

func tenantHint(r *http.Request) string {
	if hint := strings.TrimSpace(r.Header.Get(tenantHeader)); hint != "" {
		return hint
	}
	return strings.TrimSpace(r.URL.Query().Get("tenant_id"))
}

func (a *API) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	sctx, err := a.contexts.Resolve(r.Context(), userID, tenantHint(r))
	if err != nil {
		handleTenancyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sctx)
}

// requireScope resolves the caller's security context for this request and
// enforces a minimum effective role. The context is resolved fresh on every
// call (never cached across requests, since membership can change between
// them). Handlers for tenant-scoped resources start here.
func (a *API) requireScope(w http.ResponseWriter, r *http.Request, min tenancy.Role) (tenancy.SecurityContext, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return tenancy.SecurityContext{}, false
	}

	sctx, err := a.contexts.Resolve(r.Context(), userID, tenantHint(r))
	if err != nil {
		handleTenancyError(w, r, err)
		return tenancy.SecurityContext{}, false
	}
	if sctx.ActiveTenant == "" {
		writeError(w, r, http.StatusForbidden, "no active tenant")
		return tenancy.SecurityContext{}, false
	}
	if sctx.EffectiveRole.Rank() < min.Rank() {
		writeError(w, r, http.StatusForbidden, "insufficient role")
		return tenancy.SecurityContext{}, false
	}
	return sctx, true
}
