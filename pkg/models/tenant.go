package models

import "time"

// DefaultCacheTTL is applied when a tenant has no explicit cache TTL
const DefaultCacheTTL = time.Hour

// TenantConfig is the per-tenant configuration consumed by the core. It is
// supplied by an external configuration collaborator; the core never reads
// tenant records directly.
type TenantConfig struct {
	DefaultModel  string        `json:"default_model" mapstructure:"default_model"`
	FallbackModel string        `json:"fallback_model" mapstructure:"fallback_model"`
	CacheTTL      time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// EffectiveModel resolves the model for a request: an explicit request model
// wins, otherwise the tenant default.
func (c TenantConfig) EffectiveModel(requested string) string {
	if requested != "" {
		return requested
	}
	return c.DefaultModel
}

// EffectiveTTL resolves the cache TTL, falling back to DefaultCacheTTL
func (c TenantConfig) EffectiveTTL() time.Duration {
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return DefaultCacheTTL
}
