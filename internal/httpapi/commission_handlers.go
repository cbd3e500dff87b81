package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"brokeris.org/internal/audit"
	"brokeris.org/internal/commission"
	"brokeris.org/internal/obs"
	"brokeris.org/internal/tenancy"
)

const entityCommissionRule = "commission_rule"

type createRuleRequest struct {
	InsurerID       string `json:"insurer_id"`
	InsuranceTypeID string `json:"insurance_type_id"`
	RateBasisPoints int64  `json:"rate_basis_points"`
	EffectiveFrom   string `json:"effective_from"`
	EffectiveTo     string `json:"effective_to"`
}

type updateRuleRequest struct {
	InsuranceTypeID *string `json:"insurance_type_id"`
	RateBasisPoints *int64  `json:"rate_basis_points"`
	EffectiveFrom   *string `json:"effective_from"`
	EffectiveTo     *string `json:"effective_to"`
}

type listRulesResponse struct {
	Items []commission.Rule `json:"items"`
}

func (a *API) handleRulesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRule(w, r)
	case http.MethodGet:
		a.listRules(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRuleResource(w http.ResponseWriter, r *http.Request) {
	ruleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/commission-rules/"), "/")
	if ruleID == "" || strings.Contains(ruleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getRule(w, r, ruleID)
	case http.MethodPut:
		a.updateRule(w, r, ruleID)
	case http.MethodDelete:
		a.deleteRule(w, r, ruleID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	sctx, ok := a.requireScope(w, r, tenancy.RoleAdmin)
	if !ok {
		return
	}
	var req createRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseDate(req.EffectiveFrom, false)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "effective_from: "+err.Error())
		return
	}
	until, err := parseDate(req.EffectiveTo, true)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "effective_to: "+err.Error())
		return
	}

	rule, err := a.rules.CreateRule(r.Context(), commission.Rule{
		TenantID:        sctx.ActiveTenant,
		InsurerID:       strings.TrimSpace(req.InsurerID),
		InsuranceTypeID: strings.TrimSpace(req.InsuranceTypeID),
		RateBasisPoints: req.RateBasisPoints,
		EffectiveFrom:   from,
		EffectiveTo:     until,
	})
	if err != nil {
		handleCommissionError(w, r, err)
		return
	}

	a.observe(r, sctx, audit.Record{
		EntityType: entityCommissionRule,
		EntityID:   rule.ID,
		Payload:    rulePayload(req),
	})
	w.Header().Set("Location", "/v1/commission-rules/"+rule.ID)
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	sctx, ok := a.requireScope(w, r, tenancy.RoleViewer)
	if !ok {
		return
	}
	rules, err := a.rules.ListRules(r.Context(), sctx.ActiveTenant)
	if err != nil {
		handleCommissionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRulesResponse{Items: rules})
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	sctx, ok := a.requireScope(w, r, tenancy.RoleViewer)
	if !ok {
		return
	}
	rule, err := a.rules.GetRule(r.Context(), sctx.ActiveTenant, ruleID)
	if err != nil {
		handleCommissionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	sctx, ok := a.requireScope(w, r, tenancy.RoleAdmin)
	if !ok {
		return
	}
	var req updateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := commission.RuleUpdate{
		InsuranceTypeID: req.InsuranceTypeID,
		RateBasisPoints: req.RateBasisPoints,
	}
	if req.EffectiveFrom != nil {
		from, err := parseDate(*req.EffectiveFrom, false)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "effective_from: "+err.Error())
			return
		}
		upd.EffectiveFrom = &from
	}
	if req.EffectiveTo != nil {
		until, err := parseDate(*req.EffectiveTo, true)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "effective_to: "+err.Error())
			return
		}
		upd.EffectiveTo = &until
	}

	// Pre-operation snapshot for the audit trail's previousValues slot.
	var snapshot map[string]any
	if prev, err := a.rules.GetRule(r.Context(), sctx.ActiveTenant, ruleID); err == nil {
		snapshot = ruleSnapshot(prev)
	}

	rule, err := a.rules.UpdateRule(r.Context(), sctx.ActiveTenant, ruleID, upd)
	if err != nil {
		handleCommissionError(w, r, err)
		return
	}

	a.observe(r, sctx, audit.Record{
		EntityType: entityCommissionRule,
		EntityID:   rule.ID,
		Payload:    updatePayload(req),
		Snapshot:   snapshot,
	})
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	sctx, ok := a.requireScope(w, r, tenancy.RoleAdmin)
	if !ok {
		return
	}

	var snapshot map[string]any
	if prev, err := a.rules.GetRule(r.Context(), sctx.ActiveTenant, ruleID); err == nil {
		snapshot = ruleSnapshot(prev)
	}

	if err := a.rules.DeleteRule(r.Context(), sctx.ActiveTenant, ruleID); err != nil {
		handleCommissionError(w, r, err)
		return
	}

	a.observe(r, sctx, audit.Record{
		EntityType: entityCommissionRule,
		EntityID:   ruleID,
		Snapshot:   snapshot,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRateLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sctx, ok := a.requireScope(w, r, tenancy.RoleViewer)
	if !ok {
		return
	}

	insurerID := strings.TrimSpace(r.URL.Query().Get("insurer_id"))
	if insurerID == "" {
		writeError(w, r, http.StatusBadRequest, "insurer_id is required")
		return
	}
	onDate := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("on")); raw != "" {
		parsed, err := parseDate(raw, false)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "on: "+err.Error())
			return
		}
		onDate = parsed
	}

	result, err := a.rates.Resolve(r.Context(), commission.Query{
		TenantID:        sctx.ActiveTenant,
		InsurerID:       insurerID,
		InsuranceTypeID: strings.TrimSpace(r.URL.Query().Get("insurance_type_id")),
		OnDate:          onDate,
	})
	if err != nil {
		if errors.Is(err, commission.ErrAmbiguousRule) {
			// Malformed rule data, not a business outcome. Shout.
			obs.AmbiguousRules.Inc()
			obs.LogError("ambiguous commission rules", map[string]any{
				"tenant_id":  sctx.ActiveTenant,
				"insurer_id": insurerID,
				"on":         onDate.Format("2006-01-02"),
				"request_id": RequestIDFromContext(r.Context()),
			})
		}
		handleCommissionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// observe hands a completed mutation to the audit recorder. Called only after
// the handler has produced a success response code path; the recorder itself
// filters read methods and missing actors.
func (a *API) observe(r *http.Request, sctx tenancy.SecurityContext, rec audit.Record) {
	if a.recorder == nil {
		return
	}
	rec.ActorUserID = sctx.UserID
	rec.Method = r.Method
	rec.ActorIP = clientIP(r)
	rec.ActorAgent = r.UserAgent()
	a.recorder.Observe(rec)
}

func parseDate(raw string, allowEmpty bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if allowEmpty {
			return time.Time{}, nil
		}
		return time.Time{}, errors.New("date is required (YYYY-MM-DD)")
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("invalid date, expected YYYY-MM-DD")
	}
	return t, nil
}

func rulePayload(req createRuleRequest) map[string]any {
	p := map[string]any{
		"insurer_id":        req.InsurerID,
		"rate_basis_points": req.RateBasisPoints,
		"effective_from":    req.EffectiveFrom,
	}
	if req.InsuranceTypeID != "" {
		p["insurance_type_id"] = req.InsuranceTypeID
	}
	if req.EffectiveTo != "" {
		p["effective_to"] = req.EffectiveTo
	}
	return p
}

func updatePayload(req updateRuleRequest) map[string]any {
	p := map[string]any{}
	if req.InsuranceTypeID != nil {
		p["insurance_type_id"] = *req.InsuranceTypeID
	}
	if req.RateBasisPoints != nil {
		p["rate_basis_points"] = *req.RateBasisPoints
	}
	if req.EffectiveFrom != nil {
		p["effective_from"] = *req.EffectiveFrom
	}
	if req.EffectiveTo != nil {
		p["effective_to"] = *req.EffectiveTo
	}
	return p
}

func ruleSnapshot(rule commission.Rule) map[string]any {
	s := map[string]any{
		"insurer_id":        rule.InsurerID,
		"rate_basis_points": rule.RateBasisPoints,
		"effective_from":    rule.EffectiveFrom.Format("2006-01-02"),
	}
	if rule.InsuranceTypeID != "" {
		s["insurance_type_id"] = rule.InsuranceTypeID
	}
	if !rule.EffectiveTo.IsZero() {
		s["effective_to"] = rule.EffectiveTo.Format("2006-01-02")
	}
	return s
}
