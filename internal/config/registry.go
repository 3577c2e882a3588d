package config

import "sync"

// TwinVariant selects which Cognitive Engine (C7) personality a tenant gets.
type TwinVariant string

const (
	// VariantPersonal is the richer-retrieval, conversational twin.
	VariantPersonal TwinVariant = "personal"
	// VariantEnterprise is the stricter, document-first corporate twin.
	VariantEnterprise TwinVariant = "enterprise"
)

// TenantEntry is one Registry row: which twin variant a tenant gets and
// the retrieval knobs that override RetrievalConfig's process-wide
// defaults for that tenant.
type TenantEntry struct {
	Variant   TwinVariant
	Retrieval RetrievalConfig
}

// Registry maps tenant identifiers to twin variant and retrieval knobs
// (C10). Built once at startup from Config and never mutated in-flight;
// a SIGHUP restart is the supported way to pick up changes, mirroring the
// teacher's "construct once, pass by interface" treatment of global
// config and registries (spec.md §9 DESIGN NOTES).
type Registry struct {
	defaultVariant   TwinVariant
	defaultRetrieval RetrievalConfig

	mu      sync.RWMutex
	tenants map[string]TenantEntry
}

// NewRegistry builds a Registry from process-wide config. entries may be
// nil; callers add tenant overrides via Set before traffic starts.
func NewRegistry(defaultRetrieval RetrievalConfig, entries map[string]TenantEntry) *Registry {
	r := &Registry{
		defaultVariant:   VariantPersonal,
		defaultRetrieval: defaultRetrieval,
		tenants:          make(map[string]TenantEntry, len(entries)),
	}
	for k, v := range entries {
		r.tenants[k] = v
	}
	return r
}

// Set installs or replaces a tenant's entry. Intended for startup
// wiring only; the spec does not require in-flight reload.
func (r *Registry) Set(tenantID string, entry TenantEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenantID] = entry
}

// Resolve returns the twin variant and retrieval knobs for a tenant,
// falling back to process-wide defaults for an unknown or empty tenant.
func (r *Registry) Resolve(tenantID string) (TwinVariant, RetrievalConfig) {
	if tenantID == "" {
		return r.defaultVariant, r.defaultRetrieval
	}
	r.mu.RLock()
	entry, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if !ok {
		return r.defaultVariant, r.defaultRetrieval
	}
	variant := entry.Variant
	if variant == "" {
		variant = r.defaultVariant
	}
	retrieval := entry.Retrieval
	if retrieval == (RetrievalConfig{}) {
		retrieval = r.defaultRetrieval
	}
	return variant, retrieval
}
