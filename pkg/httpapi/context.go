package httpapi

import (
	"context"

	"github.com/instruqt/sandbox-broker/pkg/auth"
)

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func setRole(ctx context.Context, role auth.Role) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

func roleFrom(ctx context.Context) auth.Role {
	role, _ := ctx.Value(roleKey).(auth.Role)
	return role
}
