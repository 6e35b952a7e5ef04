package vectorstore

import (
	"context"
)

// IsolationMode defines how tenant isolation is enforced in vector indexes.
//
// Security: All implementations must enforce fail-closed behavior.
type IsolationMode interface {
	// InjectFilter adds tenant filtering to query filters.
	// Must fail with ErrMissingTenant if tenant context is absent.
	InjectFilter(ctx context.Context, filters map[string]string) (map[string]string, error)

	// InjectMetadata stamps records with the tenant from ctx before storage.
	// Must fail with ErrMissingTenant if tenant context is absent.
	InjectMetadata(ctx context.Context, records []Record) error

	// Tenant returns the validated tenant from ctx.
	Tenant(ctx context.Context) (*TenantInfo, error)

	// Mode returns the isolation mode name for logging/debugging.
	Mode() string
}

// PayloadIsolation implements IsolationMode using metadata filtering.
//
// In this mode:
//   - tenant_id is stored as record metadata
//   - All queries are filtered by tenant context inside the store query
//   - Missing tenant context = error (fail closed)
type PayloadIsolation struct{}

// NewPayloadIsolation creates a new PayloadIsolation mode.
func NewPayloadIsolation() *PayloadIsolation {
	return &PayloadIsolation{}
}

// InjectFilter adds the tenant filter to existing query filters.
func (p *PayloadIsolation) InjectFilter(ctx context.Context, filters map[string]string) (map[string]string, error) {
	tenant, err := p.Tenant(ctx)
	if err != nil {
		return nil, err
	}
	return ApplyTenantFilters(filters, tenant.TenantFilter())
}

// InjectMetadata overwrites the tenant on every record.
func (p *PayloadIsolation) InjectMetadata(ctx context.Context, records []Record) error {
	tenant, err := p.Tenant(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		records[i].TenantID = tenant.TenantID
	}
	return nil
}

// Tenant checks tenant context is present and valid.
func (p *PayloadIsolation) Tenant(ctx context.Context) (*TenantInfo, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return tenant, nil
}

// Mode returns "payload" for this isolation mode.
func (p *PayloadIsolation) Mode() string {
	return "payload"
}

var _ IsolationMode = (*PayloadIsolation)(nil)
