package utils

import (
	"context"

	"github.com/emberpeak/countflow_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyPrincipalId   = appctx.ContextKeyPrincipalId
	ContextKeyPrincipalRole = appctx.ContextKeyPrincipalRole
	ContextKeyStoreId       = appctx.ContextKeyStoreId
	ContextKeyClientIp      = appctx.ContextKeyClientIp
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetPrincipalIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyPrincipalId)
}

func GetPrincipalRoleFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyPrincipalRole)
}

// GetStoreIdFromContext returns the store scope of a STORE-role principal.
// Global roles carry no store id.
func GetStoreIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyStoreId)
}

func GetClientIpFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyClientIp)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetPrincipalIdInContext(ctx context.Context, id int) context.Context {
	return appctx.Set(ctx, ContextKeyPrincipalId, id)
}

func SetPrincipalRoleInContext(ctx context.Context, role string) context.Context {
	return appctx.Set(ctx, ContextKeyPrincipalRole, role)
}

func SetStoreIdInContext(ctx context.Context, storeId int) context.Context {
	return appctx.Set(ctx, ContextKeyStoreId, storeId)
}

func SetClientIpInContext(ctx context.Context, ip string) context.Context {
	return appctx.Set(ctx, ContextKeyClientIp, ip)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
