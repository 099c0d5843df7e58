package middleware

import (
	"context"

	"github.com/stayhub/chat/internal/model"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
	UserNameKey contextKey = "user_name"
)

// GetUserID returns the authenticated user id from the context
// (set by BearerAuth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetUserRole returns the authenticated user's platform role.
func GetUserRole(ctx context.Context) model.Role {
	v, _ := ctx.Value(UserRoleKey).(model.Role)
	return v
}

// GetUserName returns the authenticated user's display name.
func GetUserName(ctx context.Context) string {
	v, _ := ctx.Value(UserNameKey).(string)
	return v
}
