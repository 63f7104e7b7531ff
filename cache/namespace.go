package cache

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Namespace derives a deterministic cache namespace from a stable identifier.
// The same identifier always yields the same namespace, so cache keys never
// collide across unrelated deployments sharing a backend, and repeated
// provisioning within one process is idempotent.
func Namespace(id string) string {
	return fmt.Sprintf("pb-%016x", xxhash.Sum64String(id))
}

// WithNamespace wraps a CacheService so that every key is prefixed with the
// given namespace before reaching the underlying backend.
func WithNamespace(service CacheService, namespace string) CacheService {
	if namespace == "" {
		return service
	}
	return &namespacedService{base: service, prefix: namespace + KeySeparator}
}

type namespacedService struct {
	base   CacheService
	prefix string
}

func (s *namespacedService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	return s.base.GetOrFetch(ctx, s.prefix+key, fetchFn)
}

func (s *namespacedService) Delete(ctx context.Context, key string) error {
	return s.base.Delete(ctx, s.prefix+key)
}
