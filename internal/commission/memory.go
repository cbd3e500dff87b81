package commission

import (
	"context"
	"sort"
	"sync"
	"time"

	"brokeris.org/internal/ids"
)

// InMemory implements RuleStore with in-process concurrency safety. Used in
// tests and when the service runs without a database.
type InMemory struct {
	mu    sync.RWMutex
	rules map[string]Rule // ruleID -> rule
}

var _ RuleStore = (*InMemory)(nil)

// NewInMemory creates an empty rule store.
func NewInMemory() *InMemory {
	return &InMemory{rules: make(map[string]Rule)}
}

func (s *InMemory) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = ids.New()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *InMemory) GetRule(ctx context.Context, tenantID, ruleID string) (Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok || rule.TenantID != tenantID {
		return Rule{}, ErrNotFound
	}
	return rule, nil
}

func (s *InMemory) UpdateRule(ctx context.Context, tenantID, ruleID string, upd RuleUpdate) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok || rule.TenantID != tenantID {
		return Rule{}, ErrNotFound
	}
	if upd.InsuranceTypeID != nil {
		rule.InsuranceTypeID = *upd.InsuranceTypeID
	}
	if upd.RateBasisPoints != nil {
		rule.RateBasisPoints = *upd.RateBasisPoints
	}
	if upd.EffectiveFrom != nil {
		rule.EffectiveFrom = *upd.EffectiveFrom
	}
	if upd.EffectiveTo != nil {
		rule.EffectiveTo = *upd.EffectiveTo
	}
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	rule.UpdatedAt = time.Now().UTC()
	s.rules[ruleID] = rule
	return rule, nil
}

func (s *InMemory) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok || rule.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.rules, ruleID)
	return nil
}

func (s *InMemory) ListRules(ctx context.Context, tenantID string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rule
	for _, rule := range s.rules {
		if rule.TenantID == tenantID {
			out = append(out, rule)
		}
	}
	// Same ordering as the pg store, so callers see one behavior.
	sort.Slice(out, func(i, j int) bool {
		if out[i].InsurerID != out[j].InsurerID {
			return out[i].InsurerID < out[j].InsurerID
		}
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	return out, nil
}

func (s *InMemory) RulesFor(ctx context.Context, tenantID, insurerID string) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rule
	for _, rule := range s.rules {
		if rule.TenantID == tenantID && rule.InsurerID == insurerID {
			out = append(out, rule)
		}
	}
	return out, nil
}
