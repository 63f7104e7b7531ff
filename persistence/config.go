package persistence

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-persistence-bun/cache"
)

// facadeID is the stable identifier cache namespaces derive from. Deployments
// sharing one cache backend never collide because the namespace is a pure
// function of this value.
const facadeID = "goliatone/go-persistence-bun"

// ReferenceMode controls how lazy references resolve their target.
type ReferenceMode int

const (
	// ResolveEagerly re-fetches the target on every access. Useful in
	// development where the row may change underneath the reference.
	ResolveEagerly ReferenceMode = iota

	// ResolveOnAccess fetches on first access and memoizes the result for
	// the reference's lifetime. This is the production-safe mode.
	ResolveOnAccess
)

// Config is the single shared configuration for one manager. The same
// instance is read by the engine on every delegated call, so provisioning
// mutations take effect retroactively. Mutating it is not safe to race
// against in-flight operations; provision at startup.
type Config struct {
	// MetadataCache serves repeated schema metadata lookups. Nil means
	// every lookup recomputes.
	MetadataCache cache.CacheService

	// QueryCache serves read-through repository query results. Nil
	// disables repository caching.
	QueryCache cache.CacheService

	// Namespace is the deterministic cache namespace installed by SetCache.
	Namespace string

	// References selects the lazy-reference resolution mode.
	References ReferenceMode

	// Logger receives provisioning warnings and maintenance-time notices.
	Logger zerolog.Logger
}

// NewConfig returns a Config with a timestamped stderr logger and no cache
// backend installed.
func NewConfig() *Config {
	return &Config{
		Logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// SetCache provisions the shared cache backend. A non-nil provider is
// namespaced deterministically and installed as both the metadata cache and
// the query cache. A nil provider is a supported, degraded configuration:
// the manager keeps working, every lookup falls through to the engine, and
// one warning is logged so operators notice. Both paths switch references to
// the production-safe resolution mode.
func (c *Config) SetCache(provider cache.CacheService) {
	c.References = ResolveOnAccess

	if provider == nil {
		c.MetadataCache = nil
		c.QueryCache = nil
		c.Logger.Warn().
			Msg("no cache backend configured; metadata and query lookups will hit the database every time, consider wiring cache.NewService (sturdyc)")
		return
	}

	c.Namespace = cache.Namespace(facadeID)
	namespaced := cache.WithNamespace(provider, c.Namespace)
	c.MetadataCache = namespaced
	c.QueryCache = namespaced
}
