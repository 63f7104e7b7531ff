package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Reference is a lazy placeholder for an entity that has not been loaded
// yet. Construction never touches storage; the first Resolve call does.
// Under ResolveOnAccess the resolved value is memoized for the reference's
// lifetime, under ResolveEagerly every Resolve re-fetches.
type Reference struct {
	meta    *Metadata
	id      any
	mode    func() ReferenceMode
	fetch   func(ctx context.Context, meta *Metadata, id any) (any, error)
	once    sync.Once
	value   any
	loadErr error
}

// NewReference builds a lazy reference. Engines call this from their
// Reference implementation; mode is read at resolve time so provisioning
// changes apply to references created earlier.
func NewReference(
	meta *Metadata,
	id any,
	mode func() ReferenceMode,
	fetch func(ctx context.Context, meta *Metadata, id any) (any, error),
) *Reference {
	return &Reference{meta: meta, id: id, mode: mode, fetch: fetch}
}

// ID returns the primary key the reference points at.
func (r *Reference) ID() any { return r.id }

// EntityName returns the referenced entity's type name.
func (r *Reference) EntityName() string { return r.meta.Name }

// Resolve loads the referenced entity. A missing row resolves to nil, nil,
// matching Find's absence contract. Engine failures surface translated.
func (r *Reference) Resolve(ctx context.Context) (any, error) {
	if r.mode() == ResolveEagerly {
		return r.load(ctx)
	}

	r.once.Do(func() {
		r.value, r.loadErr = r.load(ctx)
	})
	return r.value, r.loadErr
}

func (r *Reference) load(ctx context.Context) (any, error) {
	entity, err := r.fetch(ctx, r.meta, r.id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, Translate("reference.resolve", err)
	}
	return entity, nil
}
