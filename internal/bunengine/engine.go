// Package bunengine implements the persistence.Engine capability on top of
// the bun ORM: a staged unit of work, an identity map for managed entities,
// primary-key loading with lock modes, and join-if-open transactions.
package bunengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-persistence-bun/cache"
	"github.com/goliatone/go-persistence-bun/persistence"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type pendingOp struct {
	kind   opKind
	entity any
	meta   *persistence.Metadata
}

// Engine is the bun-backed persistence engine. The unit of work is not
// thread safe; the manager documents that constraint to callers.
type Engine struct {
	db       *bun.DB
	config   *persistence.Config
	resolver persistence.MetadataResolver

	mu      sync.Mutex
	pending []pendingOp

	// identity tracks managed entities by "Name::pk".
	identity *xsync.MapOf[string, any]
}

var _ persistence.Engine = (*Engine)(nil)

// New builds an engine over a bun handle. The config instance is read on
// every call, so provisioning it later changes behavior retroactively.
func New(db *bun.DB, config *persistence.Config, resolver persistence.MetadataResolver) *Engine {
	return &Engine{
		db:       db,
		config:   config,
		resolver: resolver,
		identity: xsync.NewMapOf[string, any](),
	}
}

type txKey struct{}

// DB returns the open transaction when ctx carries one, the root handle
// otherwise.
func (e *Engine) DB(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return e.db
}

// Transact runs fn in a transaction. A call inside an open transaction
// joins it; begin, commit and rollback stay with the outermost call.
func (e *Engine) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Persist stages an insert for the next flush.
func (e *Engine) Persist(ctx context.Context, entity any) error {
	meta, err := e.metaFor(entity)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, pendingOp{kind: opInsert, entity: entity, meta: meta})
	return nil
}

// Remove stages a delete for the next flush.
func (e *Engine) Remove(ctx context.Context, entity any) error {
	meta, err := e.metaFor(entity)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, pendingOp{kind: opDelete, entity: entity, meta: meta})
	return nil
}

// Merge reconciles a detached entity into the managed context. When the row
// exists the detached state is copied onto the managed instance and an
// update is staged; when it does not, a copy is staged for insertion.
func (e *Engine) Merge(ctx context.Context, entity any) (any, error) {
	meta, err := e.metaFor(entity)
	if err != nil {
		return nil, err
	}

	pk, err := e.pkValue(meta, entity)
	if err != nil {
		return nil, err
	}

	managed, err := e.Find(ctx, meta, pk, persistence.FindOptions{})
	if err != nil && !isNoRows(err) {
		return nil, err
	}

	if managed == nil || isNoRows(err) {
		clone, copyErr := e.Copy(entity, false)
		if copyErr != nil {
			return nil, copyErr
		}
		e.mu.Lock()
		e.pending = append(e.pending, pendingOp{kind: opInsert, entity: clone, meta: meta})
		e.mu.Unlock()
		return clone, nil
	}

	reflect.ValueOf(managed).Elem().Set(reflect.ValueOf(entity).Elem())

	e.mu.Lock()
	e.pending = append(e.pending, pendingOp{kind: opUpdate, entity: managed, meta: meta})
	e.mu.Unlock()
	return managed, nil
}

// Refresh reloads the entity's state from storage in place.
func (e *Engine) Refresh(ctx context.Context, entity any) error {
	if _, err := e.metaFor(entity); err != nil {
		return err
	}
	return e.DB(ctx).NewSelect().Model(entity).WherePK().Scan(ctx)
}

// Flush applies every staged operation in order. On failure the applied
// prefix stays applied and the failing operation remains staged.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.pending) > 0 {
		op := e.pending[0]
		if err := e.apply(ctx, op); err != nil {
			return err
		}
		e.pending = e.pending[1:]
	}
	return nil
}

// FlushEntity applies only the staged operations for the given entity,
// matched by pointer identity.
func (e *Engine) FlushEntity(ctx context.Context, entity any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.pending[:0]
	var failed error
	for i, op := range e.pending {
		if failed != nil || op.entity != entity {
			remaining = append(remaining, op)
			continue
		}
		if err := e.apply(ctx, op); err != nil {
			failed = err
			remaining = append(remaining, e.pending[i:]...)
			break
		}
	}
	e.pending = remaining
	return failed
}

func (e *Engine) apply(ctx context.Context, op pendingOp) error {
	db := e.DB(ctx)

	switch op.kind {
	case opInsert:
		if _, err := db.NewInsert().Model(op.entity).Exec(ctx); err != nil {
			return err
		}
		e.track(op.meta, op.entity)
		return nil

	case opUpdate:
		return e.applyUpdate(ctx, op)

	case opDelete:
		if _, err := db.NewDelete().Model(op.entity).WherePK().Exec(ctx); err != nil {
			return err
		}
		e.untrack(op.meta, op.entity)
		return nil
	}
	return nil
}

// applyUpdate performs the staged update, guarding a version column when the
// entity declares one: the update is conditioned on the expected version and
// zero affected rows report an optimistic lock conflict.
func (e *Engine) applyUpdate(ctx context.Context, op pendingOp) error {
	db := e.DB(ctx)
	version, hasVersion := versionOf(op.entity)

	q := db.NewUpdate().Model(op.entity).WherePK()
	if hasVersion {
		q = q.Where("version = ?", version)
		setVersion(op.entity, version+1)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if hasVersion {
			setVersion(op.entity, version)
		}
		return err
	}

	if hasVersion {
		affected, raErr := res.RowsAffected()
		if raErr == nil && affected == 0 {
			setVersion(op.entity, version)
			actual, _ := e.storedVersion(ctx, op.meta, op.entity)
			return &persistence.OptimisticLockError{
				Entity:   op.meta.Name,
				Expected: version,
				Actual:   actual,
			}
		}
	}

	e.track(op.meta, op.entity)
	return nil
}

// Find loads one entity by primary key. A plain read is served from the
// identity map when the entity is already managed, so repeated finds return
// the same instance until Clear detaches it. Lock modes always hit storage.
// Absence surfaces as sql.ErrNoRows for the manager to map to a nil result.
func (e *Engine) Find(ctx context.Context, meta *persistence.Metadata, id any, opts persistence.FindOptions) (any, error) {
	if opts.Lock == persistence.LockNone {
		if managed, ok := e.identity.Load(identityKey(meta, id)); ok {
			return managed, nil
		}
	}

	pkCol, err := e.pkColumn(ctx, meta)
	if err != nil {
		return nil, err
	}

	model := meta.New()
	q := e.DB(ctx).NewSelect().Model(model).Where("? = ?", bun.Ident(pkCol), id)

	if opts.Lock == persistence.LockPessimistic {
		if _, ok := ctx.Value(txKey{}).(bun.Tx); !ok {
			return nil, persistence.ErrTransactionRequired
		}
		// sqlite has no row locks; the transaction itself serializes.
		if e.db.Dialect().Name() != dialect.SQLite {
			q = q.For("UPDATE")
		}
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	if opts.Lock == persistence.LockOptimistic && opts.Version > 0 {
		if actual, ok := versionOf(model); ok && actual != opts.Version {
			return nil, &persistence.OptimisticLockError{
				Entity:   meta.Name,
				Expected: opts.Version,
				Actual:   actual,
			}
		}
	}

	e.track(meta, model)
	return model, nil
}

// Reference builds a lazy reference without touching storage. The resolution
// mode is read from the shared config at access time.
func (e *Engine) Reference(meta *persistence.Metadata, id any) *persistence.Reference {
	return persistence.NewReference(meta, id,
		func() persistence.ReferenceMode { return e.config.References },
		func(ctx context.Context, meta *persistence.Metadata, id any) (any, error) {
			return e.Find(ctx, meta, id, persistence.FindOptions{})
		})
}

// Clear detaches entities: everything for nil metadata, one type otherwise.
// Staged operations for detached entities are dropped.
func (e *Engine) Clear(meta *persistence.Metadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if meta == nil {
		e.pending = nil
		e.identity.Clear()
		return nil
	}

	remaining := e.pending[:0]
	for _, op := range e.pending {
		if op.meta.Name != meta.Name {
			remaining = append(remaining, op)
		}
	}
	e.pending = remaining

	prefix := meta.Name + cache.KeySeparator
	e.identity.Range(func(key string, _ any) bool {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			e.identity.Delete(key)
		}
		return true
	})
	return nil
}

// Copy produces an unmanaged copy of the entity. Shallow copies share
// pointer-typed fields; deep copies round-trip through msgpack.
func (e *Engine) Copy(entity any, deep bool) (any, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, &persistence.MappingError{
			Entity: fmt.Sprintf("%T", entity),
			Reason: "copy supports non-nil pointers to struct entities",
		}
	}

	clone := reflect.New(rv.Elem().Type())
	if !deep {
		clone.Elem().Set(rv.Elem())
		return clone.Interface(), nil
	}

	data, err := msgpack.Marshal(entity)
	if err != nil {
		return nil, &persistence.MappingError{
			Entity: rv.Elem().Type().Name(),
			Reason: fmt.Sprintf("deep copy not supported: %v", err),
		}
	}
	if err := msgpack.Unmarshal(data, clone.Interface()); err != nil {
		return nil, &persistence.MappingError{
			Entity: rv.Elem().Type().Name(),
			Reason: fmt.Sprintf("deep copy not supported: %v", err),
		}
	}
	return clone.Interface(), nil
}

// metaFor resolves registered metadata for an entity instance; unmanaged
// types report a mapping error.
func (e *Engine) metaFor(entity any) (*persistence.Metadata, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, &persistence.MappingError{
			Entity: fmt.Sprintf("%T", entity),
			Reason: "entities must be non-nil pointers to struct types",
		}
	}

	name := rv.Elem().Type().Name()
	meta, ok := e.resolver.Lookup(name)
	if !ok {
		return nil, &persistence.MappingError{
			Entity: name,
			Reason: "type is not managed; register it before use",
		}
	}
	return meta, nil
}

// pkColumn resolves the entity's primary key column, through the metadata
// cache when one is provisioned.
func (e *Engine) pkColumn(ctx context.Context, meta *persistence.Metadata) (string, error) {
	fetch := func(ctx context.Context) (string, error) {
		table := e.db.Table(meta.Type)
		if len(table.PKs) == 0 {
			return "", &persistence.MetadataError{
				Entity: meta.Name,
				Reason: "no primary key declared in mapping",
			}
		}
		return table.PKs[0].Name, nil
	}

	if svc := e.config.MetadataCache; svc != nil {
		return cache.GetOrFetch(ctx, svc, cache.Key("PK", meta.Name), fetch)
	}
	return fetch(ctx)
}

// pkValue extracts the entity's primary key value.
func (e *Engine) pkValue(meta *persistence.Metadata, entity any) (any, error) {
	table := e.db.Table(meta.Type)
	if len(table.PKs) == 0 {
		return nil, &persistence.MetadataError{
			Entity: meta.Name,
			Reason: "no primary key declared in mapping",
		}
	}

	strct := reflect.Indirect(reflect.ValueOf(entity))
	value := table.PKs[0].Value(strct)
	if value.IsZero() {
		return nil, &persistence.MappingError{
			Entity: meta.Name,
			Reason: "entity has no primary key value",
		}
	}
	return value.Interface(), nil
}

func (e *Engine) storedVersion(ctx context.Context, meta *persistence.Metadata, entity any) (int64, error) {
	pk, err := e.pkValue(meta, entity)
	if err != nil {
		return 0, err
	}
	pkCol, err := e.pkColumn(ctx, meta)
	if err != nil {
		return 0, err
	}

	var version int64
	err = e.DB(ctx).NewSelect().
		Table(meta.Table).
		Column("version").
		Where("? = ?", bun.Ident(pkCol), pk).
		Scan(ctx, &version)
	return version, err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (e *Engine) track(meta *persistence.Metadata, entity any) {
	if pk, err := e.pkValue(meta, entity); err == nil {
		e.identity.Store(identityKey(meta, pk), entity)
	}
}

func (e *Engine) untrack(meta *persistence.Metadata, entity any) {
	if pk, err := e.pkValue(meta, entity); err == nil {
		e.identity.Delete(identityKey(meta, pk))
	}
}

func identityKey(meta *persistence.Metadata, pk any) string {
	return meta.Name + cache.KeySeparator + fmt.Sprint(pk)
}

// versionOf reports the entity's int64 Version field when it declares one.
func versionOf(entity any) (int64, bool) {
	field := reflect.Indirect(reflect.ValueOf(entity)).FieldByName("Version")
	if !field.IsValid() || !field.CanInt() {
		return 0, false
	}
	return field.Int(), true
}

func setVersion(entity any, version int64) {
	field := reflect.Indirect(reflect.ValueOf(entity)).FieldByName("Version")
	if field.IsValid() && field.CanSet() && field.CanInt() {
		field.SetInt(version)
	}
}
