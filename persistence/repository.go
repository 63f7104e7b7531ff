package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-persistence-bun/cache"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// RepositoryFactory constructs a custom repository bound to the manager and
// the entity's resolved metadata. Registered through WithRepository, looked
// up by Manager.Repository.
type RepositoryFactory func(m *Manager, meta *Metadata) any

// SelectCriteria narrows a read query. Criteria compose left to right.
type SelectCriteria func(*bun.SelectQuery) *bun.SelectQuery

// entityRepository is the generic default returned by Manager.Repository
// when an entity declares no custom factory. Reads go straight to the
// engine's query runner; writes stage through the manager's unit of work.
type entityRepository struct {
	m    *Manager
	meta *Metadata
}

func newEntityRepository(m *Manager, meta *Metadata) *entityRepository {
	return &entityRepository{m: m, meta: meta}
}

// Metadata returns the entity metadata the repository is bound to.
func (r *entityRepository) Metadata() *Metadata { return r.meta }

// GetByID loads one entity by primary key; absence returns nil, nil.
func (r *entityRepository) GetByID(ctx context.Context, id any) (any, error) {
	return r.m.Find(ctx, r.meta.Name, id)
}

// Create stages the entity and flushes it immediately.
func (r *entityRepository) Create(ctx context.Context, entity any) error {
	if err := r.m.Persist(ctx, entity); err != nil {
		return err
	}
	return r.m.FlushScoped(ctx, entity)
}

// Delete stages the removal and flushes it immediately.
func (r *entityRepository) Delete(ctx context.Context, entity any) error {
	if err := r.m.Remove(ctx, entity); err != nil {
		return err
	}
	return r.m.FlushScoped(ctx, entity)
}

// Repository is the typed repository. Read operations are read-through
// cached when the shared configuration carries a query cache; write
// operations pass through the manager's unit of work and invalidate the
// affected read keys.
type Repository[T any] struct {
	m    *Manager
	meta *Metadata

	// keys tracks active cache keys for invalidation after writes.
	keys sync.Map
}

// NewRepository resolves T's metadata and binds a typed repository to the
// manager. T must be a registered entity type.
func NewRepository[T any](m *Manager) (*Repository[T], error) {
	var probe T
	name := typeNameOf(&probe)
	meta, ok := m.registry.Lookup(name)
	if !ok {
		return nil, Translate("repository", &MetadataError{
			Entity: name,
			Reason: "no mapping metadata declared",
		})
	}
	return &Repository[T]{m: m, meta: meta}, nil
}

// Get retrieves a single record matching the criteria; absence returns
// nil, nil.
func (r *Repository[T]) Get(ctx context.Context, criteria ...SelectCriteria) (*T, error) {
	key := r.key("Get", criteria)
	return r.cached(ctx, key, func(ctx context.Context) (*T, error) {
		model := new(T)
		q := r.m.DB(ctx).NewSelect().Model(model)
		for _, c := range criteria {
			q = c(q)
		}
		if err := q.Limit(1).Scan(ctx); err != nil {
			return nil, err
		}
		return model, nil
	})
}

// GetByID retrieves one record by primary key; absence returns nil, nil.
func (r *Repository[T]) GetByID(ctx context.Context, id any) (*T, error) {
	key := r.key("GetByID", []SelectCriteria{}, id)
	return r.cached(ctx, key, func(ctx context.Context) (*T, error) {
		entity, err := r.m.Find(ctx, r.meta.Name, id)
		if err != nil || entity == nil {
			return nil, err
		}
		return entity.(*T), nil
	})
}

// List retrieves the records matching the criteria along with the total
// count for the same criteria.
func (r *Repository[T]) List(ctx context.Context, criteria ...SelectCriteria) ([]T, int, error) {
	type listResult struct {
		Records []T
		Total   int
	}

	key := r.key("List", criteria)
	fetch := func(ctx context.Context) (listResult, error) {
		var records []T
		q := r.m.DB(ctx).NewSelect().Model(&records)
		for _, c := range criteria {
			q = c(q)
		}
		total, err := q.ScanAndCount(ctx)
		if err != nil {
			return listResult{}, err
		}
		return listResult{Records: records, Total: total}, nil
	}

	if svc := r.m.config.QueryCache; svc != nil {
		r.keys.Store(key, struct{}{})
		res, err := cache.GetOrFetch(ctx, svc, key, fetch)
		if err != nil {
			return nil, 0, Translate("repository.list", err)
		}
		return res.Records, res.Total, nil
	}

	res, err := fetch(ctx)
	if err != nil {
		return nil, 0, Translate("repository.list", err)
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria.
func (r *Repository[T]) Count(ctx context.Context, criteria ...SelectCriteria) (int, error) {
	key := r.key("Count", criteria)
	fetch := func(ctx context.Context) (int, error) {
		q := r.m.DB(ctx).NewSelect().Model((*T)(nil))
		for _, c := range criteria {
			q = c(q)
		}
		return q.Count(ctx)
	}

	if svc := r.m.config.QueryCache; svc != nil {
		r.keys.Store(key, struct{}{})
		count, err := cache.GetOrFetch(ctx, svc, key, fetch)
		if err != nil {
			return 0, Translate("repository.count", err)
		}
		return count, nil
	}

	count, err := fetch(ctx)
	if err != nil {
		return 0, Translate("repository.count", err)
	}
	return count, nil
}

// Create stages the record, flushes it, and invalidates list and count
// caches since new rows affect pagination and totals.
func (r *Repository[T]) Create(ctx context.Context, record *T) error {
	if err := r.m.Persist(ctx, record); err != nil {
		return err
	}
	if err := r.m.FlushScoped(ctx, record); err != nil {
		return err
	}
	r.invalidate(ctx, "List", "Count")
	return nil
}

// Update merges the record's state and flushes it, invalidating every
// tracked read key for the entity.
func (r *Repository[T]) Update(ctx context.Context, record *T) (*T, error) {
	managed, err := r.m.Merge(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := r.m.FlushScoped(ctx, managed); err != nil {
		return nil, err
	}
	r.invalidate(ctx, "")
	return managed.(*T), nil
}

// Delete stages the removal, flushes it, and invalidates tracked read keys.
func (r *Repository[T]) Delete(ctx context.Context, record *T) error {
	if err := r.m.Remove(ctx, record); err != nil {
		return err
	}
	if err := r.m.FlushScoped(ctx, record); err != nil {
		return err
	}
	r.invalidate(ctx, "")
	return nil
}

// cached runs fetch through the query cache when one is provisioned. Missing
// rows surface as nil, nil either way.
func (r *Repository[T]) cached(ctx context.Context, key string, fetch func(ctx context.Context) (*T, error)) (*T, error) {
	var model *T
	var err error
	if svc := r.m.config.QueryCache; svc != nil {
		r.keys.Store(key, struct{}{})
		model, err = cache.GetOrFetch(ctx, svc, key, cache.FetchFn[*T](fetch))
	} else {
		model, err = fetch(ctx)
	}

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, Translate("repository.get", err)
	}
	return model, nil
}

// key builds the cache key for a read operation. Criteria funcs render as
// process-stable pointers, so closure-built criteria produce distinct keys;
// that costs hit rate, never correctness.
func (r *Repository[T]) key(op string, criteria []SelectCriteria, extra ...any) string {
	segments := make([]any, 0, len(criteria)+len(extra)+1)
	segments = append(segments, r.meta.Name)
	segments = append(segments, extra...)
	for _, c := range criteria {
		segments = append(segments, c)
	}
	return cache.Key(op, segments...)
}

// invalidate drops tracked cache keys whose operation matches any prefix.
// An empty prefix drops everything tracked.
func (r *Repository[T]) invalidate(ctx context.Context, prefixes ...string) {
	svc := r.m.config.QueryCache
	if svc == nil {
		return
	}

	r.keys.Range(func(k, _ any) bool {
		key := k.(string)
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				// Best effort: a failed delete only costs freshness
				// until the entry's TTL expires.
				_ = svc.Delete(ctx, key)
				r.keys.Delete(key)
				break
			}
		}
		return true
	})
}
