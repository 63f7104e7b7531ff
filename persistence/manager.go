package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uptrace/bun"
)

// Manager is the single managed-persistence entry point. It composes over an
// injected Engine, funnels every delegated failure through Translate, and
// owns the cache and schema maintenance hooks. Callers only ever see
// *Error or *InvalidArgumentError from its surface.
//
// A manager is built for single-process, single-active-transaction use,
// matching the engine's non-thread-safe unit of work: do not share one
// manager for concurrent mutating operations without external
// synchronization. Reads may interleave when no writes are pending, but no
// guarantee beyond the engine's is made.
type Manager struct {
	engine   Engine
	config   *Config
	registry *Registry

	cacheDirOnce sync.Once
	cacheDir     string
}

// New builds a manager around an engine, its shared configuration, and the
// metadata registry. The config instance is held, not copied: provisioning
// it later affects all subsequent delegated calls.
func New(engine Engine, config *Config, registry *Registry) *Manager {
	if config == nil {
		config = NewConfig()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{engine: engine, config: config, registry: registry}
}

// Config returns the shared configuration instance.
func (m *Manager) Config() *Config { return m.config }

// Register declares one or more entities with the manager's registry.
func (m *Manager) Register(entity any, opts ...MetadataOption) (*Metadata, error) {
	meta, err := m.registry.Register(entity, opts...)
	if err != nil {
		return nil, Translate("register", err)
	}
	return meta, nil
}

// Lookup resolves declared metadata by entity type name.
func (m *Manager) Lookup(name string) (*Metadata, bool) {
	return m.registry.Lookup(name)
}

// All returns every declared metadata.
func (m *Manager) All() []*Metadata {
	return m.registry.All()
}

// Persist stages an entity for insertion on the next flush.
func (m *Manager) Persist(ctx context.Context, entity any) error {
	return Translate("persist", m.engine.Persist(ctx, entity))
}

// Remove stages an entity for deletion on the next flush.
func (m *Manager) Remove(ctx context.Context, entity any) error {
	return Translate("remove", m.engine.Remove(ctx, entity))
}

// Merge reconciles a detached entity's state into the managed context and
// returns the managed copy.
func (m *Manager) Merge(ctx context.Context, entity any) (any, error) {
	managed, err := m.engine.Merge(ctx, entity)
	if err != nil {
		return nil, Translate("merge", err)
	}
	return managed, nil
}

// Refresh reloads an entity's state from storage, discarding unflushed
// local changes. Unlike the staged mutations this takes effect immediately.
func (m *Manager) Refresh(ctx context.Context, entity any) error {
	return Translate("refresh", m.engine.Refresh(ctx, entity))
}

// FlushAll synchronizes every staged unit-of-work change to storage.
func (m *Manager) FlushAll(ctx context.Context) error {
	return Translate("flush", m.engine.Flush(ctx))
}

// FlushScoped synchronizes only the staged changes for the given entity.
// This is the narrower, still-supported flush variant; most callers want
// FlushAll.
func (m *Manager) FlushScoped(ctx context.Context, entity any) error {
	return Translate("flush", m.engine.FlushEntity(ctx, entity))
}

// Find retrieves one entity by primary key, optionally under a lock mode.
// The type name must be registered; violating that fails fast with
// *InvalidArgumentError before any delegation. A missing row is not an
// error: Find returns nil, nil.
func (m *Manager) Find(ctx context.Context, typeName string, id any, opts ...FindOption) (any, error) {
	meta, ok := m.registry.Lookup(typeName)
	if !ok {
		return nil, &InvalidArgumentError{
			Argument: "typeName",
			Reason:   fmt.Sprintf("no entity registered under %q", typeName),
		}
	}

	var options FindOptions
	for _, opt := range opts {
		opt(&options)
	}

	entity, err := m.engine.Find(ctx, meta, id, options)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, Translate("find", err)
	}
	return entity, nil
}

// Reference returns a lazy reference to the entity without querying storage.
// Same precondition as Find: the type name must be registered.
func (m *Manager) Reference(typeName string, id any) (*Reference, error) {
	meta, ok := m.registry.Lookup(typeName)
	if !ok {
		return nil, &InvalidArgumentError{
			Argument: "typeName",
			Reason:   fmt.Sprintf("no entity registered under %q", typeName),
		}
	}
	return m.engine.Reference(meta, id), nil
}

// Clear detaches entities from the unit of work. A nil target detaches
// everything; a string names an entity type; any other value is resolved to
// its type name first. Unresolvable mappings fail with a metadata error.
func (m *Manager) Clear(target any) error {
	if target == nil {
		return Translate("clear", m.engine.Clear(nil))
	}

	name, ok := target.(string)
	if !ok {
		name = typeNameOf(target)
	}

	meta, found := m.registry.Lookup(name)
	if !found {
		return Translate("clear", &MetadataError{
			Entity: name,
			Reason: "no mapping metadata declared",
		})
	}
	return Translate("clear", m.engine.Clear(meta))
}

// Copy produces a new, unmanaged copy of an entity, shallow or deep.
func (m *Manager) Copy(entity any, deep bool) (any, error) {
	copied, err := m.engine.Copy(entity, deep)
	if err != nil {
		return nil, Translate("copy", err)
	}
	return copied, nil
}

// Transactional executes fn inside a single transaction: begin, execute,
// commit on success, roll back and re-raise on any failure. Because fn is
// arbitrary caller code, any error it returns wraps into *Error, not just
// engine failures. A Transactional call inside an open transaction joins it
// instead of nesting.
func (m *Manager) Transactional(ctx context.Context, fn func(ctx context.Context) error) error {
	return Translate("transactional", m.engine.Transact(ctx, fn))
}

// Repository resolves the entity's repository: the custom factory declared
// in its metadata when one is registered, else the generic default, bound to
// this manager and the resolved metadata.
func (m *Manager) Repository(typeName string) (any, error) {
	meta, ok := m.registry.Lookup(typeName)
	if !ok {
		return nil, Translate("repository", &MetadataError{
			Entity: typeName,
			Reason: "no mapping metadata declared",
		})
	}
	if meta.Repository != nil {
		return meta.Repository(m, meta), nil
	}
	return newEntityRepository(m, meta), nil
}

// DB exposes the engine's active query runner for repository use: the open
// transaction when ctx carries one, the root handle otherwise.
func (m *Manager) DB(ctx context.Context) bun.IDB {
	return m.engine.DB(ctx)
}

// CacheDir returns the on-disk cache directory path for this manager,
// computed once on first access and returned identically for the manager's
// lifetime. The directory is not created here; that belongs to the caller's
// filesystem tooling.
func (m *Manager) CacheDir() string {
	m.cacheDirOnce.Do(func() {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		m.cacheDir = filepath.Join(base, "go-persistence-bun", m.config.Namespace)
	})
	return m.cacheDir
}

// Find is the typed companion of Manager.Find: it resolves the type name
// from T and returns a *T, or nil when the row is absent.
func Find[T any](ctx context.Context, m *Manager, id any, opts ...FindOption) (*T, error) {
	var probe T
	entity, err := m.Find(ctx, typeNameOf(&probe), id, opts...)
	if err != nil || entity == nil {
		return nil, err
	}
	return entity.(*T), nil
}

// Transact executes fn transactionally and propagates its typed result
// unchanged on success.
func Transact[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Transactional(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
