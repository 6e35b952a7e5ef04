package vectorstore

import "errors"

// tenantFilterKeys are keys that cannot be in user filters (security).
var tenantFilterKeys = []string{MetaTenantID}

// ErrTenantFilterInUserFilters indicates user tried to inject tenant fields.
var ErrTenantFilterInUserFilters = errors.New("user filters cannot contain tenant fields")

// ApplyTenantFilters merges user filters with tenant filters, enforcing security.
//
// Tenant filters always win, and user filters naming a tenant field are
// rejected outright rather than silently overwritten.
func ApplyTenantFilters(userFilters, tenantFilters map[string]string) (map[string]string, error) {
	for _, key := range tenantFilterKeys {
		if _, exists := userFilters[key]; exists {
			return nil, ErrTenantFilterInUserFilters
		}
	}

	result := make(map[string]string, len(userFilters)+len(tenantFilters))
	for k, v := range userFilters {
		result[k] = v
	}
	for k, v := range tenantFilters {
		result[k] = v
	}
	return result, nil
}
