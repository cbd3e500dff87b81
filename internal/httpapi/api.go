package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"brokeris.org/internal/audit"
	"brokeris.org/internal/commission"
	"brokeris.org/internal/obs"
	"brokeris.org/internal/tenancy"
)

// ReadyProbe checks the service's backing dependencies (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. It composes the three back-office cores around the
// request lifecycle: every request resolves its security context first,
// business handlers run inside that scope, and mutating handlers hand their
// outcome to the audit recorder once success is determined.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	users    tenancy.Store
	contexts *tenancy.Resolver
	rules    commission.RuleStore
	rates    *commission.Resolver
	recorder *audit.Recorder

	tokenTTL   time.Duration
	rateBurst  int
	ratePerSec int
}

// New wires the API. recorder may be nil when auditing is disabled (tests of
// unrelated surface).
func New(rp ReadyProbe, version string, users tenancy.Store, rules commission.RuleStore, recorder *audit.Recorder) (*API, error) {
	contexts, err := tenancy.NewResolver(users)
	if err != nil {
		return nil, err
	}
	rates, err := commission.NewResolver(rules)
	if err != nil {
		return nil, err
	}

	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		users:      users,
		contexts:   contexts,
		rules:      rules,
		rates:      rates,
		recorder:   recorder,
		tokenTTL:   15 * time.Minute,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleToken)
	a.mux.HandleFunc("/v1/context", a.handleContext)
	a.mux.HandleFunc("/v1/commission-rules", a.handleRulesCollection)
	a.mux.HandleFunc("/v1/commission-rules/", a.handleRuleResource)
	a.mux.HandleFunc("/v1/commission-rates", a.handleRateLookup)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "brokeris-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "brokeris-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleTenancyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenancy.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, tenancy.ErrUserInactive),
		errors.Is(err, tenancy.ErrNoTenantAccess),
		errors.Is(err, tenancy.ErrTenantNotAuthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, tenancy.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleCommissionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, commission.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, commission.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, commission.ErrAmbiguousRule):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
