package models

import "context"

type contextKey string

const tenantContextKey contextKey = "tenant_context"

// WithTenant returns a context carrying the tenant for downstream storage
// and queue operations.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// TenantFromContext extracts the tenant set by the auth middleware or a
// background job. The second return is false when no tenant is present.
func TenantFromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey).(TenantContext)
	return tc, ok && tc.Valid()
}
