// Package cache provides the caching capability consumed by the persistence
// manager: a read-through CacheService, deterministic key building and
// namespacing, and a default in-process backend.
//
// # Overview
//
// The package exports:
//
//   - CacheService: a generic read-through caching interface
//   - Key: builds stable cache keys from an operation name and segments
//   - Namespace / WithNamespace: deterministic key namespacing so unrelated
//     deployments can share one backend without collisions
//   - NewService: the default sturdyc-backed implementation
//
// # Basic Usage
//
// The typical consumer goes through the persistence provisioner rather than
// using this package directly, but the pieces compose on their own:
//
//	service, err := cache.NewService(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	service = cache.WithNamespace(service, cache.Namespace("my-app"))
//
//	user, err := cache.GetOrFetch(ctx, service, cache.Key("Find", "User", id),
//		func(ctx context.Context) (*User, error) {
//			return loadUser(ctx, id)
//		})
//
// # Key Strategy
//
// Key renders segments with %v, which keeps keys stable across runs for the
// values the persistence layer uses (entity names, primary keys, operation
// names). Callers with richer argument shapes should pre-render them to
// strings before calling Key.
//
// # Absence of a Backend
//
// A nil CacheService is a supported, degraded configuration: the persistence
// provisioner logs a warning and every lookup falls through to the source of
// truth. Nothing in this package treats a missing backend as an error.
package cache
