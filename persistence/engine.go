package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// Engine is the mapping-engine capability the Manager composes over. The
// production implementation lives in internal/bunengine; tests substitute
// recording fakes. Every method reports failures with the engine error types
// below so the manager can translate them into the public taxonomy.
type Engine interface {
	// Persist stages an entity for insertion on the next flush.
	Persist(ctx context.Context, entity any) error

	// Remove stages an entity for deletion on the next flush.
	Remove(ctx context.Context, entity any) error

	// Merge reconciles a detached entity into the managed context and
	// returns the managed copy.
	Merge(ctx context.Context, entity any) (any, error)

	// Refresh reloads an entity from storage, discarding unflushed changes.
	Refresh(ctx context.Context, entity any) error

	// Flush synchronizes all staged unit-of-work changes to storage.
	Flush(ctx context.Context) error

	// FlushEntity synchronizes only the staged changes for one entity.
	FlushEntity(ctx context.Context, entity any) error

	// Find loads one entity by primary key. Absence is reported with
	// sql.ErrNoRows, which the manager maps to a nil result.
	Find(ctx context.Context, meta *Metadata, id any, opts FindOptions) (any, error)

	// Reference builds a lazy reference that resolves on first access.
	Reference(meta *Metadata, id any) *Reference

	// Clear detaches entities from the unit of work. A nil metadata
	// argument detaches everything.
	Clear(meta *Metadata) error

	// Copy produces a new, unmanaged copy of an entity, shallow or deep.
	Copy(entity any, deep bool) (any, error)

	// Transact runs fn inside a transaction, joining an already open one.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	// DB exposes the active query runner: the open transaction when ctx
	// carries one, the root handle otherwise.
	DB(ctx context.Context) bun.IDB
}

// LockMode selects how Find acquires an entity.
type LockMode int

const (
	// LockNone performs a plain read.
	LockNone LockMode = iota

	// LockOptimistic verifies the entity's version column after loading.
	LockOptimistic

	// LockPessimistic acquires a row lock and requires an open transaction.
	LockPessimistic
)

// FindOptions carries the optional lock settings for Find.
type FindOptions struct {
	Lock    LockMode
	Version int64
}

// FindOption mutates FindOptions.
type FindOption func(*FindOptions)

// WithLock requests the given lock mode.
func WithLock(mode LockMode) FindOption {
	return func(o *FindOptions) { o.Lock = mode }
}

// WithLockVersion requests an optimistic lock against an expected version.
func WithLockVersion(version int64) FindOption {
	return func(o *FindOptions) {
		o.Lock = LockOptimistic
		o.Version = version
	}
}

// ErrTransactionRequired is reported by engines when an operation needs an
// open transaction, such as a pessimistic lock outside Transact.
var ErrTransactionRequired = errors.New("persistence: operation requires an active transaction")

// MappingError is reported by engines when an entity cannot be mapped:
// unmanaged types, unsupported copies, rejected unit-of-work registrations.
type MappingError struct {
	Entity string
	Code   string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %s", e.Entity, e.Reason)
}

// MetadataError is reported when declared entity metadata cannot be resolved.
type MetadataError struct {
	Entity string
	Code   string
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata %s: %s", e.Entity, e.Reason)
}

// OptimisticLockError is reported when a concurrent modification invalidated
// the expected version of an entity.
type OptimisticLockError struct {
	Entity   string
	Expected int64
	Actual   int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock on %s: expected version %d, found %d", e.Entity, e.Expected, e.Actual)
}
