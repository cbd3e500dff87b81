package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	userIDKey     ctxKey = "auth_user_id"
	globalRoleKey ctxKey = "auth_global_role"
)

// ContextWithUser stores the authenticated user identity in the context.
func ContextWithUser(ctx context.Context, userID, globalRole string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	if role := strings.TrimSpace(strings.ToLower(globalRole)); role != "" {
		ctx = context.WithValue(ctx, globalRoleKey, role)
	}
	return ctx
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// GlobalRoleFromContext returns the token-asserted global role, if any.
func GlobalRoleFromContext(ctx context.Context) string {
	v, _ := ctx.Value(globalRoleKey).(string)
	return v
}
