package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"brokeris.org/internal/commission"
	"brokeris.org/internal/ids"
)

var _ commission.RuleStore = (*Store)(nil)

const ruleColumns = `id, tenant_id, insurer_id, insurance_type_id, rate_basis_points, effective_from, effective_to, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, rule commission.Rule) (commission.Rule, error) {
	if err := rule.Validate(); err != nil {
		return commission.Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into commission_rules (id, tenant_id, insurer_id, insurance_type_id, rate_basis_points, effective_from, effective_to)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+ruleColumns+`
	`, rule.ID, rule.TenantID, rule.InsurerID, nullIfEmpty(rule.InsuranceTypeID),
		rule.RateBasisPoints, rule.EffectiveFrom, nullIfZero(rule.EffectiveTo))
	created, err := scanRule(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return commission.Rule{}, fmt.Errorf("%w: unknown tenant or insurer", commission.ErrInvalidInput)
		}
		return commission.Rule{}, err
	}
	return created, nil
}

func (s *Store) GetRule(ctx context.Context, tenantID, ruleID string) (commission.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+ruleColumns+`
		from commission_rules
		where tenant_id = $1 and id = $2
	`, tenantID, ruleID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Rule{}, commission.ErrNotFound
	}
	return rule, err
}

func (s *Store) UpdateRule(ctx context.Context, tenantID, ruleID string, upd commission.RuleUpdate) (commission.Rule, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.InsuranceTypeID != nil {
		sets = append(sets, fmt.Sprintf("insurance_type_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.InsuranceTypeID))
		idx++
	}
	if upd.RateBasisPoints != nil {
		sets = append(sets, fmt.Sprintf("rate_basis_points = $%d", idx))
		args = append(args, *upd.RateBasisPoints)
		idx++
	}
	if upd.EffectiveFrom != nil {
		sets = append(sets, fmt.Sprintf("effective_from = $%d", idx))
		args = append(args, *upd.EffectiveFrom)
		idx++
	}
	if upd.EffectiveTo != nil {
		sets = append(sets, fmt.Sprintf("effective_to = $%d", idx))
		args = append(args, nullIfZero(*upd.EffectiveTo))
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update commission_rules set %s where tenant_id = $%d and id = $%d`,
			strings.Join(sets, ", "), idx, idx+1)
		args = append(args, tenantID, ruleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return commission.Rule{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return commission.Rule{}, err
		}
		if aff == 0 {
			return commission.Rule{}, commission.ErrNotFound
		}
	}
	updated, err := s.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return commission.Rule{}, err
	}
	if err := updated.Validate(); err != nil {
		return commission.Rule{}, err
	}
	return updated, nil
}

func (s *Store) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from commission_rules
		where tenant_id = $1 and id = $2
	`, tenantID, ruleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return commission.ErrNotFound
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, tenantID string) ([]commission.Rule, error) {
	return s.queryRules(ctx, `
		select `+ruleColumns+`
		from commission_rules
		where tenant_id = $1
		order by insurer_id, effective_from
	`, tenantID)
}

func (s *Store) RulesFor(ctx context.Context, tenantID, insurerID string) ([]commission.Rule, error) {
	return s.queryRules(ctx, `
		select `+ruleColumns+`
		from commission_rules
		where tenant_id = $1 and insurer_id = $2
	`, tenantID, insurerID)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]commission.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []commission.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (commission.Rule, error) {
	var (
		rule   commission.Rule
		typeID sql.NullString
		until  sql.NullTime
	)
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.InsurerID, &typeID,
		&rule.RateBasisPoints, &rule.EffectiveFrom, &until, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return commission.Rule{}, err
	}
	if typeID.Valid {
		rule.InsuranceTypeID = typeID.String
	}
	if until.Valid {
		rule.EffectiveTo = until.Time
	}
	return rule, nil
}
