package vectorstore

import (
	"context"
	"errors"
	"regexp"
)

// Tenant isolation error types - fail closed security model.
var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	// This triggers "fail closed" behavior - no empty results, just errors.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// tenantIDPattern allows alphanumeric, hyphen, underscore.
var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// tenantContextKey is the context key for TenantInfo.
type tenantContextKey struct{}

// TenantInfo holds tenant context for filtering and isolation.
type TenantInfo struct {
	// TenantID is the site owner identifier (required).
	TenantID string
}

// Validate checks that the tenant identifier is present and well formed.
func (t *TenantInfo) Validate() error {
	return ValidateTenantID(t.TenantID)
}

// ValidateTenantID checks a raw tenant identifier.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return ErrInvalidTenant
	}
	return nil
}

// ContextWithTenant adds TenantInfo to a context.
func ContextWithTenant(ctx context.Context, tenant *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// WithTenantID is shorthand for ContextWithTenant with only an ID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return ContextWithTenant(ctx, &TenantInfo{TenantID: tenantID})
}

// TenantFromContext extracts TenantInfo from a context.
// Returns ErrMissingTenant if not present - fail closed.
func TenantFromContext(ctx context.Context) (*TenantInfo, error) {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return nil, ErrMissingTenant
	}
	tenant, ok := val.(*TenantInfo)
	if !ok || tenant == nil {
		return nil, ErrMissingTenant
	}
	return tenant, nil
}

// HasTenant checks if TenantInfo is present in context without error.
func HasTenant(ctx context.Context) bool {
	_, err := TenantFromContext(ctx)
	return err == nil
}

// TenantFilter returns filter conditions matching this tenant's records.
func (t *TenantInfo) TenantFilter() map[string]string {
	return map[string]string{
		MetaTenantID: t.TenantID,
	}
}
