package commission

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("commission: invalid input")
	ErrNotFound     = errors.New("commission: rule not found")

	// ErrAmbiguousRule means two effective rules of equal specificity share
	// the same effective-from date. That is malformed rule data, not a
	// business outcome, and is never silently resolved.
	ErrAmbiguousRule = errors.New("commission: ambiguous rule set")
)

// Rule is an effective-dated commission rate. An empty InsuranceTypeID means
// the rule applies to every insurance type for the (tenant, insurer) pair.
// Rates are in basis points (1500 = 15%); no floats.
type Rule struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	InsurerID       string    `json:"insurer_id"`
	InsuranceTypeID string    `json:"insurance_type_id,omitempty"`
	RateBasisPoints int64     `json:"rate_basis_points"`
	EffectiveFrom   time.Time `json:"effective_from"`
	EffectiveTo     time.Time `json:"effective_to,omitempty"` // zero = open-ended
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the rule's own invariants. Overlap with other rules is not
// checked here; the resolver decides precedence at query time.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.InsurerID) == "" {
		return fmt.Errorf("%w: insurer_id is required", ErrInvalidInput)
	}
	if r.RateBasisPoints < 0 || r.RateBasisPoints > 10000 {
		return fmt.Errorf("%w: rate must be between 0 and 10000 basis points", ErrInvalidInput)
	}
	if r.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective_from is required", ErrInvalidInput)
	}
	if !r.EffectiveTo.IsZero() && r.EffectiveTo.Before(r.EffectiveFrom) {
		return fmt.Errorf("%w: effective_to precedes effective_from", ErrInvalidInput)
	}
	return nil
}

// AppliesToAllTypes reports whether the rule is the catch-all for its
// (tenant, insurer) pair.
func (r Rule) AppliesToAllTypes() bool {
	return strings.TrimSpace(r.InsuranceTypeID) == ""
}

// effectiveOn reports whether onDate falls inside the rule's date range,
// bounds inclusive.
func (r Rule) effectiveOn(onDate time.Time) bool {
	if onDate.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo.IsZero() {
		return true
	}
	return !onDate.After(r.EffectiveTo)
}
