package config

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cortexflow/ragcore/pkg/models"
)

// StaticTenantConfigSource serves tenant configuration from an in-memory
// map. Platforms with a tenant registry plug in their own source; this one
// covers single-tenant deployments and tests.
type StaticTenantConfigSource struct {
	mu       sync.RWMutex
	tenants  map[uuid.UUID]models.TenantConfig
	fallback models.TenantConfig
}

// NewStaticTenantConfigSource creates a source with a fallback configuration
// applied to tenants that have no explicit entry.
func NewStaticTenantConfigSource(fallback models.TenantConfig) *StaticTenantConfigSource {
	return &StaticTenantConfigSource{
		tenants:  make(map[uuid.UUID]models.TenantConfig),
		fallback: fallback,
	}
}

// Set registers or replaces one tenant's configuration
func (s *StaticTenantConfigSource) Set(tenantID uuid.UUID, cfg models.TenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = cfg
}

// TenantConfig returns the tenant's configuration or the fallback
func (s *StaticTenantConfigSource) TenantConfig(ctx context.Context, tenantID uuid.UUID) (models.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.tenants[tenantID]; ok {
		return cfg, nil
	}
	return s.fallback, nil
}
