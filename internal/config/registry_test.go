package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveFallsBackToDefaultsForUnknownTenant(t *testing.T) {
	r := NewRegistry(RetrievalConfig{ProcessTopK: 10, Alpha: 0.5}, nil)
	variant, retrieval := r.Resolve("unknown-tenant")
	require.Equal(t, VariantPersonal, variant)
	require.Equal(t, 10, retrieval.ProcessTopK)
}

func TestRegistry_ResolveReturnsTenantOverride(t *testing.T) {
	r := NewRegistry(RetrievalConfig{ProcessTopK: 10}, map[string]TenantEntry{
		"acme": {Variant: VariantEnterprise, Retrieval: RetrievalConfig{ProcessTopK: 25, DocThreshold: 0.8}},
	})
	variant, retrieval := r.Resolve("acme")
	require.Equal(t, VariantEnterprise, variant)
	require.Equal(t, 25, retrieval.ProcessTopK)
	require.Equal(t, 0.8, retrieval.DocThreshold)
}

func TestRegistry_SetInstallsNewTenant(t *testing.T) {
	r := NewRegistry(RetrievalConfig{}, nil)
	r.Set("new-tenant", TenantEntry{Variant: VariantEnterprise})
	variant, _ := r.Resolve("new-tenant")
	require.Equal(t, VariantEnterprise, variant)
}

func TestRegistry_EmptyTenantIDUsesDefault(t *testing.T) {
	r := NewRegistry(RetrievalConfig{ProcessTopK: 7}, map[string]TenantEntry{
		"acme": {Variant: VariantEnterprise},
	})
	variant, retrieval := r.Resolve("")
	require.Equal(t, VariantPersonal, variant)
	require.Equal(t, 7, retrieval.ProcessTopK)
}
