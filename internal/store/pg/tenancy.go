package pg

import (
	"context"
	"database/sql"
	"errors"

	"brokeris.org/internal/tenancy"
)

var _ tenancy.Store = (*Store)(nil)

func (s *Store) FindUser(ctx context.Context, userID string) (tenancy.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, global_role, status, created_at, updated_at
		from users
		where id = $1
	`, userID))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (tenancy.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, global_role, status, created_at, updated_at
		from users
		where email = lower($1)
	`, email))
}

func (s *Store) scanUser(row *sql.Row) (tenancy.User, error) {
	var (
		user tenancy.User
		role string
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenancy.User{}, tenancy.ErrUserNotFound
	}
	if err != nil {
		return tenancy.User{}, err
	}
	user.GlobalRole = tenancy.Role(role)
	return user, nil
}

// Memberships returns every membership row for the user, active or not,
// ordered by tenant id so the resolver's default-tenant choice is stable.
func (s *Store) Memberships(ctx context.Context, userID string) ([]tenancy.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, tenant_id, role, active, created_at
		from tenant_memberships
		where user_id = $1
		order by tenant_id asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []tenancy.Membership
	for rows.Next() {
		var (
			m    tenancy.Membership
			role string
		)
		if err := rows.Scan(&m.UserID, &m.TenantID, &role, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = tenancy.Role(role)
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memberships, nil
}
