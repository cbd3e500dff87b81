package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brokeris.org/internal/audit"
	"brokeris.org/internal/auth"
	"brokeris.org/internal/commission"
	"brokeris.org/internal/tenancy"
)

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	users    *tenancy.InMemory
	rules    *commission.InMemory
	sink     *audit.InMemorySink
	recorder *audit.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("BROKERIS_AUTH_SECRET", "test-secret-please-rotate")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	users := tenancy.NewInMemory()
	rules := commission.NewInMemory()
	sink := audit.NewInMemorySink()
	recorder := audit.NewRecorder(sink)
	t.Cleanup(recorder.Close)

	api, err := New(ReadyProbe{}, "test", users, rules, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The default limiter is tuned for production traffic, not test bursts.
	api.rateBurst = 10000
	api.ratePerSec = 10000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		t:        t,
		srv:      srv,
		users:    users,
		rules:    rules,
		sink:     sink,
		recorder: recorder,
	}
}

func (e *testEnv) seedUser(id, email, password string, globalRole tenancy.Role) tenancy.User {
	e.t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		e.t.Fatalf("HashPassword: %v", err)
	}
	return e.users.PutUser(tenancy.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		GlobalRole:   globalRole,
		Status:       tenancy.UserStatusActive,
	})
}

func (e *testEnv) seedMembership(userID, tenantID string, role tenancy.Role) {
	e.users.PutMembership(tenancy.Membership{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		Active:   true,
	})
}

func (e *testEnv) seedRule(rule commission.Rule) commission.Rule {
	e.t.Helper()
	created, err := e.rules.CreateRule(context.Background(), rule)
	if err != nil {
		e.t.Fatalf("CreateRule: %v", err)
	}
	return created
}

func (e *testEnv) login(email, password string) string {
	e.t.Helper()
	status, body := e.do(http.MethodPost, "/v1/auth/token", "", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if status != http.StatusOK {
		e.t.Fatalf("login %s: status %d, body %v", email, status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		e.t.Fatalf("login %s: empty access_token", email)
	}
	return token
}

// do issues a request and decodes the JSON body into a map. A 204 returns a
// nil map.
func (e *testEnv) do(method, path, token, tenant string, payload any) (int, map[string]any) {
	e.t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			e.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatalf("%s %s: read body: %v", method, path, err)
	}
	// Some responses (mux 404, rate limiter) are plain text.
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTokenLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-admin", "admin@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-admin", "t-alpha", tenancy.RoleAdmin)

	token := env.login("admin@alpha.test", "swordfish")
	if token == "" {
		t.Fatal("expected a token")
	}

	status, body := env.do(http.MethodPost, "/v1/auth/token", "", "", map[string]any{
		"email":    "admin@alpha.test",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d, want 401", status)
	}
	wrongMsg := body["error"]

	status, body = env.do(http.MethodPost, "/v1/auth/token", "", "", map[string]any{
		"email":    "ghost@alpha.test",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("unknown account: status = %d, want 401", status)
	}
	// Same message for wrong password and unknown account: no account probing.
	if body["error"] != wrongMsg {
		t.Fatalf("error mismatch: %v vs %v", body["error"], wrongMsg)
	}
}

func TestContextResolution(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-1", "multi@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-1", "t-beta", tenancy.RoleViewer)
	env.seedMembership("u-1", "t-alpha", tenancy.RoleAdmin)
	token := env.login("multi@alpha.test", "swordfish")

	status, body := env.do(http.MethodGet, "/v1/context", token, "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["active_tenant"] != "t-alpha" {
		t.Fatalf("default tenant = %v, want t-alpha (lowest tenant id)", body["active_tenant"])
	}
	if body["effective_role"] != string(tenancy.RoleAdmin) {
		t.Fatalf("effective_role = %v, want admin", body["effective_role"])
	}

	status, body = env.do(http.MethodGet, "/v1/context", token, "t-beta", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["active_tenant"] != "t-beta" || body["effective_role"] != string(tenancy.RoleViewer) {
		t.Fatalf("switched context = %v", body)
	}

	status, _ = env.do(http.MethodGet, "/v1/context", token, "t-gamma", nil)
	if status != http.StatusForbidden {
		t.Fatalf("unauthorized tenant: status = %d, want 403", status)
	}

	status, _ = env.do(http.MethodGet, "/v1/context", "", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", status)
	}
}

func TestRuleCRUDWritesAudit(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-admin", "admin@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-admin", "t-alpha", tenancy.RoleAdmin)
	token := env.login("admin@alpha.test", "swordfish")

	status, body := env.do(http.MethodPost, "/v1/commission-rules", token, "t-alpha", map[string]any{
		"insurer_id":        "ins-1",
		"insurance_type_id": "auto",
		"rate_basis_points": 1500,
		"effective_from":    "2026-01-01",
	})
	if status != http.StatusCreated {
		t.Fatalf("create: status = %d, body %v", status, body)
	}
	ruleID, _ := body["id"].(string)
	if ruleID == "" {
		t.Fatal("create: missing rule id")
	}

	status, body = env.do(http.MethodPut, "/v1/commission-rules/"+ruleID, token, "t-alpha", map[string]any{
		"rate_basis_points": 1750,
	})
	if status != http.StatusOK {
		t.Fatalf("update: status = %d, body %v", status, body)
	}
	if got := body["rate_basis_points"].(float64); got != 1750 {
		t.Fatalf("update: rate = %v, want 1750", got)
	}

	// Reads must leave no audit trace.
	status, _ = env.do(http.MethodGet, "/v1/commission-rules", token, "t-alpha", nil)
	if status != http.StatusOK {
		t.Fatalf("list: status = %d", status)
	}
	status, _ = env.do(http.MethodGet, "/v1/commission-rules/"+ruleID, token, "t-alpha", nil)
	if status != http.StatusOK {
		t.Fatalf("get: status = %d", status)
	}

	status, _ = env.do(http.MethodDelete, "/v1/commission-rules/"+ruleID, token, "t-alpha", nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete: status = %d", status)
	}

	env.recorder.Flush()
	entries := env.sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3 (create, update, delete)", len(entries))
	}

	create, update, del := entries[0], entries[1], entries[2]
	if create.Action != audit.ActionCreate || create.EntityID != ruleID || create.ActorUserID != "u-admin" {
		t.Fatalf("create entry = %+v", create)
	}
	if create.EntityType != "commission_rule" {
		t.Fatalf("create entity type = %q", create.EntityType)
	}
	if update.Action != audit.ActionUpdate {
		t.Fatalf("update action = %q", update.Action)
	}
	if update.PreviousValues == nil {
		t.Fatal("update entry missing previous values snapshot")
	}
	if got := update.PreviousValues["rate_basis_points"]; got != int64(1500) {
		t.Fatalf("update previous rate = %v, want 1500", got)
	}
	if del.Action != audit.ActionDelete {
		t.Fatalf("delete action = %q", del.Action)
	}
	if del.NewValues != nil {
		t.Fatalf("delete entry carries new values: %v", del.NewValues)
	}
	if del.PreviousValues == nil {
		t.Fatal("delete entry missing previous values snapshot")
	}
}

func TestRuleCreateRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-agent", "agent@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-agent", "t-alpha", tenancy.RoleAgent)
	token := env.login("agent@alpha.test", "swordfish")

	status, _ := env.do(http.MethodPost, "/v1/commission-rules", token, "t-alpha", map[string]any{
		"insurer_id":        "ins-1",
		"rate_basis_points": 1500,
		"effective_from":    "2026-01-01",
	})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}

	env.recorder.Flush()
	if got := len(env.sink.Entries()); got != 0 {
		t.Fatalf("rejected mutation produced %d audit entries", got)
	}
}

func TestRuleTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-a", "a@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-a", "t-alpha", tenancy.RoleAdmin)
	env.seedUser("u-b", "b@beta.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-b", "t-beta", tenancy.RoleAdmin)

	rule := env.seedRule(commission.Rule{
		TenantID:        "t-alpha",
		InsurerID:       "ins-1",
		RateBasisPoints: 1500,
		EffectiveFrom:   day("2026-01-01"),
	})

	tokenB := env.login("b@beta.test", "swordfish")
	status, _ := env.do(http.MethodGet, "/v1/commission-rules/"+rule.ID, tokenB, "t-beta", nil)
	if status != http.StatusNotFound {
		t.Fatalf("cross-tenant read: status = %d, want 404", status)
	}
	status, _ = env.do(http.MethodDelete, "/v1/commission-rules/"+rule.ID, tokenB, "t-beta", nil)
	if status != http.StatusNotFound {
		t.Fatalf("cross-tenant delete: status = %d, want 404", status)
	}
}

func TestRateLookup(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-v", "viewer@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-v", "t-alpha", tenancy.RoleViewer)
	token := env.login("viewer@alpha.test", "swordfish")

	env.seedRule(commission.Rule{
		TenantID:        "t-alpha",
		InsurerID:       "ins-1",
		RateBasisPoints: 1500,
		EffectiveFrom:   day("2026-01-01"),
	})
	specific := env.seedRule(commission.Rule{
		TenantID:        "t-alpha",
		InsurerID:       "ins-1",
		InsuranceTypeID: "auto",
		RateBasisPoints: 2000,
		EffectiveFrom:   day("2026-01-01"),
	})

	status, body := env.do(http.MethodGet,
		"/v1/commission-rates?insurer_id=ins-1&insurance_type_id=auto&on=2026-03-01", token, "t-alpha", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["applicable"] != true {
		t.Fatalf("applicable = %v", body["applicable"])
	}
	rule := body["rule"].(map[string]any)
	if rule["id"] != specific.ID || rule["rate_basis_points"].(float64) != 2000 {
		t.Fatalf("specific rule preferred: got %v", rule)
	}

	status, body = env.do(http.MethodGet,
		"/v1/commission-rates?insurer_id=ins-1&insurance_type_id=life&on=2026-03-01", token, "t-alpha", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	rule = body["rule"].(map[string]any)
	if rule["rate_basis_points"].(float64) != 1500 {
		t.Fatalf("catch-all fallback: got %v", rule)
	}

	status, body = env.do(http.MethodGet,
		"/v1/commission-rates?insurer_id=ins-1&on=2025-06-01", token, "t-alpha", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["applicable"] != false {
		t.Fatalf("pre-effective date: applicable = %v, want false", body["applicable"])
	}
	if _, present := body["rule"]; present {
		t.Fatalf("no-rate response must omit the rule: %v", body)
	}

	status, _ = env.do(http.MethodGet,
		"/v1/commission-rates?insurance_type_id=auto", token, "t-alpha", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing insurer_id: status = %d, want 400", status)
	}
}

func TestRateLookupAmbiguousConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-v", "viewer@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-v", "t-alpha", tenancy.RoleViewer)
	token := env.login("viewer@alpha.test", "swordfish")

	for i := 0; i < 2; i++ {
		env.seedRule(commission.Rule{
			TenantID:        "t-alpha",
			InsurerID:       "ins-1",
			RateBasisPoints: int64(1000 + i*500),
			EffectiveFrom:   day("2026-01-01"),
		})
	}

	status, _ := env.do(http.MethodGet,
		"/v1/commission-rates?insurer_id=ins-1&on=2026-03-01", token, "t-alpha", nil)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
}

type failingSink struct{ calls int }

func (s *failingSink) Append(ctx context.Context, e audit.Entry) error {
	s.calls++
	return errors.New("sink unavailable")
}

func TestAuditFailureDoesNotSurface(t *testing.T) {
	t.Setenv("BROKERIS_AUTH_SECRET", "test-secret-please-rotate")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	users := tenancy.NewInMemory()
	rules := commission.NewInMemory()
	sink := &failingSink{}
	recorder := audit.NewRecorder(sink)
	t.Cleanup(recorder.Close)

	api, err := New(ReadyProbe{}, "test", users, rules, recorder)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	api.rateBurst = 10000
	api.ratePerSec = 10000
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	env := &testEnv{t: t, srv: srv, users: users, rules: rules, recorder: recorder}
	env.seedUser("u-admin", "admin@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-admin", "t-alpha", tenancy.RoleAdmin)
	token := env.login("admin@alpha.test", "swordfish")

	status, body := env.do(http.MethodPost, "/v1/commission-rules", token, "t-alpha", map[string]any{
		"insurer_id":        "ins-1",
		"rate_basis_points": 1500,
		"effective_from":    "2026-01-01",
	})
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body %v", status, body)
	}

	recorder.Flush()
	if sink.calls != 1 {
		t.Fatalf("sink calls = %d, want exactly one attempt (no retries)", sink.calls)
	}
}

func TestSuperAdminEntersAnyTenant(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("u-root", "root@hq.test", "swordfish", tenancy.RoleSuperAdmin)
	token := env.login("root@hq.test", "swordfish")

	status, body := env.do(http.MethodGet, "/v1/context", token, "t-anything", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["active_tenant"] != "t-anything" {
		t.Fatalf("active_tenant = %v", body["active_tenant"])
	}
	if body["effective_role"] != string(tenancy.RoleSuperAdmin) {
		t.Fatalf("effective_role = %v", body["effective_role"])
	}
}

func TestHealthAndInfo(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		status, body := env.do(http.MethodGet, path, "", "", nil)
		if status != http.StatusOK {
			t.Fatalf("%s: status = %d, body %v", path, status, body)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	path := fmt.Sprintf("/v1/nope-%d", time.Now().Unix())

	// Everything outside the public set requires a token, even dead routes.
	status, _ := env.do(http.MethodGet, path, "", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status = %d, want 401", status)
	}

	env.seedUser("u-x", "x@alpha.test", "swordfish", tenancy.RoleViewer)
	env.seedMembership("u-x", "t-alpha", tenancy.RoleViewer)
	token := env.login("x@alpha.test", "swordfish")
	status, _ = env.do(http.MethodGet, path, token, "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("authenticated: status = %d, want 404", status)
	}
}
