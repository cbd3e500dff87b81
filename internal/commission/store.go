package commission

import (
	"context"
	"time"
)

// RuleUpdate carries partial changes to a rule. Nil fields are left as-is;
// a zero EffectiveTo clears the end date back to open-ended.
type RuleUpdate struct {
	InsuranceTypeID *string
	RateBasisPoints *int64
	EffectiveFrom   *time.Time
	EffectiveTo     *time.Time
}

// RuleStore is the full persistence surface used by the host application.
// The resolver itself only needs the embedded read-side Store.
type RuleStore interface {
	Store
	CreateRule(ctx context.Context, rule Rule) (Rule, error)
	GetRule(ctx context.Context, tenantID, ruleID string) (Rule, error)
	UpdateRule(ctx context.Context, tenantID, ruleID string, upd RuleUpdate) (Rule, error)
	DeleteRule(ctx context.Context, tenantID, ruleID string) error
	ListRules(ctx context.Context, tenantID string) ([]Rule, error)
}
