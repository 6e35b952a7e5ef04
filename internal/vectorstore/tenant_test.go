package vectorstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTenantID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "acme", false},
		{"hyphen and underscore", "org-123_eu", false},
		{"max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"space", "acme corp", true},
		{"path traversal", "../acme", true},
		{"dot", "acme.io", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenantID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTenant)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTenantContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		ctx := WithTenantID(context.Background(), "acme")
		got, err := TenantFromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "acme", got.TenantID)
		assert.True(t, HasTenant(ctx))
	})

	t.Run("missing tenant", func(t *testing.T) {
		_, err := TenantFromContext(context.Background())
		assert.ErrorIs(t, err, ErrMissingTenant)
		assert.False(t, HasTenant(context.Background()))
	})

	t.Run("nil tenant", func(t *testing.T) {
		ctx := ContextWithTenant(context.Background(), nil)
		_, err := TenantFromContext(ctx)
		assert.ErrorIs(t, err, ErrMissingTenant)
	})
}

func TestPayloadIsolation(t *testing.T) {
	iso := NewPayloadIsolation()
	assert.Equal(t, "payload", iso.Mode())

	t.Run("inject filter", func(t *testing.T) {
		ctx := WithTenantID(context.Background(), "acme")
		filters, err := iso.InjectFilter(ctx, map[string]string{MetaSourceURL: "https://a.test/"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			MetaTenantID:  "acme",
			MetaSourceURL: "https://a.test/",
		}, filters)
	})

	t.Run("inject filter without tenant", func(t *testing.T) {
		_, err := iso.InjectFilter(context.Background(), nil)
		assert.ErrorIs(t, err, ErrMissingTenant)
	})

	t.Run("inject metadata overwrites tenant", func(t *testing.T) {
		ctx := WithTenantID(context.Background(), "acme")
		records := []Record{{TenantID: "globex"}, {}}
		require.NoError(t, iso.InjectMetadata(ctx, records))
		for _, r := range records {
			assert.Equal(t, "acme", r.TenantID)
		}
	})

	t.Run("invalid tenant rejected", func(t *testing.T) {
		ctx := WithTenantID(context.Background(), "")
		_, err := iso.Tenant(ctx)
		assert.ErrorIs(t, err, ErrInvalidTenant)
	})
}

func TestApplyTenantFilters(t *testing.T) {
	tenant := map[string]string{MetaTenantID: "acme"}

	merged, err := ApplyTenantFilters(nil, tenant)
	require.NoError(t, err)
	assert.Equal(t, tenant, merged)

	_, err = ApplyTenantFilters(map[string]string{MetaTenantID: "globex"}, tenant)
	assert.ErrorIs(t, err, ErrTenantFilterInUserFilters)
}

func TestValidateGeneration(t *testing.T) {
	assert.NoError(t, ValidateGeneration("0193f1c2a8b07c3e9d1e2f3a4b5c6d7e"))
	assert.ErrorIs(t, ValidateGeneration(""), ErrInvalidGeneration)
	assert.ErrorIs(t, ValidateGeneration("ABC"), ErrInvalidGeneration)
	assert.ErrorIs(t, ValidateGeneration("0193f1c2-a8b0"), ErrInvalidGeneration)
	assert.ErrorIs(t, ValidateGeneration(strings.Repeat("a", 33)), ErrInvalidGeneration)
}
