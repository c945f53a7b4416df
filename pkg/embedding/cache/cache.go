// Package cache provides the content-addressed, tenant-isolated embedding
// cache. Keys bind tenant, model, and a hash of the normalized text, so a
// hit can never cross tenants or models even for identical text.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexflow/ragcore/pkg/models"
)

// KeyPrefix namespaces all cache keys
const KeyPrefix = "embedding:cache:"

// Cache stores embedding vectors keyed by (tenant, text, model) with TTL
// expiry enforced at read time.
type Cache interface {
	// Get returns the cached vector and whether it was present. An expired
	// entry behaves as absent and is removed opportunistically.
	Get(ctx context.Context, tenantID uuid.UUID, text, modelName string) (models.Vector, bool, error)

	// Put stores a vector with the given TTL (0 means the implementation default)
	Put(ctx context.Context, tenantID uuid.UUID, text, modelName string, vector models.Vector, ttl time.Duration) error

	// InvalidateTenant removes all entries belonging to one tenant
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error

	// InvalidateModel removes all entries for one model across tenants
	InvalidateModel(ctx context.Context, modelName string) error

	// Stats returns entry count and the configured default TTL
	Stats(ctx context.Context) (Stats, error)

	// Close releases any underlying resources
	Close() error
}

// Stats describes the cache population
type Stats struct {
	Entries    int64         `json:"entries"`
	DefaultTTL time.Duration `json:"default_ttl"`
}

// NormalizeText applies the documented normalization before hashing:
// surrounding whitespace is trimmed, case is preserved.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// Key derives the deterministic cache key for (tenant, text, model). The
// tenant and model are key path segments rather than hash inputs, so
// per-tenant and per-model invalidation can match on key patterns.
func Key(tenantID uuid.UUID, text, modelName string) string {
	hash := sha256.Sum256([]byte(NormalizeText(text)))
	textHash := hex.EncodeToString(hash[:])[:16]
	return KeyPrefix + tenantID.String() + ":" + modelName + ":" + textHash
}

// tenant UUID and text hash widths inside a key
const (
	keyTenantLen = 36
	keyHashLen   = 16
)

// keyModel recovers the model segment from a cache key. The tenant segment
// is a fixed-width UUID and the trailing hash is fixed-width hex, so the
// model is extracted positionally and may itself contain ':' (Bedrock model
// IDs do). Substring matching on ":<model>:" would also hit the key prefix
// for a model literally named "cache".
func keyModel(key string) (string, bool) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return "", false
	}
	rest := key[len(KeyPrefix):]
	if len(rest) < keyTenantLen+1+1+1+keyHashLen {
		return "", false
	}
	if rest[keyTenantLen] != ':' || rest[len(rest)-keyHashLen-1] != ':' {
		return "", false
	}
	return rest[keyTenantLen+1 : len(rest)-keyHashLen-1], true
}
