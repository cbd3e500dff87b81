package commission

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Store supplies candidate rules for a (tenant, insurer) pair. Read-only from
// the resolver's point of view.
type Store interface {
	RulesFor(ctx context.Context, tenantID, insurerID string) ([]Rule, error)
}

// Query identifies one rate lookup.
type Query struct {
	TenantID        string
	InsurerID       string
	InsuranceTypeID string // empty = transaction has no specific type
	OnDate          time.Time
}

// Result is the outcome of a lookup. Applicable=false is the defined "no
// rate" answer: a normal result, not an error and not a zero rate. Rule is
// nil exactly when Applicable is false.
type Result struct {
	Applicable bool  `json:"applicable"`
	Rule       *Rule `json:"rule,omitempty"`
}

// Resolver picks exactly one applicable rate from an overlapping,
// effective-dated rule set. It performs no writes; identical inputs against
// an unchanged rule set always yield the identical result, including under
// concurrent invocation.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("commission store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve returns the single applicable rule for the query.
//
// Precedence: a rule naming the query's insurance type beats a catch-all
// rule; within equal specificity the latest effective-from wins. Two
// survivors with the same effective-from are reported as ErrAmbiguousRule,
// a data-integrity signal the caller should surface loudly.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, error) {
	tenantID := strings.TrimSpace(q.TenantID)
	insurerID := strings.TrimSpace(q.InsurerID)
	typeID := strings.TrimSpace(q.InsuranceTypeID)
	if tenantID == "" || insurerID == "" {
		return Result{}, ErrInvalidInput
	}
	if q.OnDate.IsZero() {
		return Result{}, ErrInvalidInput
	}

	rules, err := r.store.RulesFor(ctx, tenantID, insurerID)
	if err != nil {
		return Result{}, err
	}

	var candidates []Rule
	for _, rule := range rules {
		if !rule.effectiveOn(q.OnDate) {
			continue
		}
		// A rule for a different specific type never applies; a rule for
		// the query's type or the catch-all does.
		if !rule.AppliesToAllTypes() && rule.InsuranceTypeID != typeID {
			continue
		}
		candidates = append(candidates, rule)
	}
	if len(candidates) == 0 {
		return Result{Applicable: false}, nil
	}

	// Keep only the most specific tier.
	if typeID != "" {
		var specific []Rule
		for _, rule := range candidates {
			if !rule.AppliesToAllTypes() {
				specific = append(specific, rule)
			}
		}
		if len(specific) > 0 {
			candidates = specific
		}
	}

	best := candidates[0]
	ambiguous := false
	for _, rule := range candidates[1:] {
		switch {
		case rule.EffectiveFrom.After(best.EffectiveFrom):
			best = rule
			ambiguous = false
		case rule.EffectiveFrom.Equal(best.EffectiveFrom):
			ambiguous = true
		}
	}
	if ambiguous {
		return Result{}, ErrAmbiguousRule
	}
	return Result{Applicable: true, Rule: &best}, nil
}
