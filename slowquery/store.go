package slowquery

import (
	"context"

	"github.com/goliatone/go-persistence-bun/persistence"
)

// Store persists captured records through the manager's query runner. It
// deliberately bypasses the staged unit of work: capture fires inside the
// engine's flush critical section, where staging another entity would both
// mutate the unit of work mid-flush and deadlock on its lock.
type Store struct {
	m *persistence.Manager
}

var _ Sink = (*Store)(nil)

// NewStore binds a sink to a manager. The Record type must be registered
// with the manager, typically via Register.
func NewStore(m *persistence.Manager) *Store {
	return &Store{m: m}
}

// Store implements Sink. Duplicate hashes violate the table's unique
// constraint and surface as errors for the hook to log; records are
// insert-only.
func (s *Store) Store(ctx context.Context, rec *Record) error {
	_, err := s.m.DB(ctx).NewInsert().Model(rec).Exec(ctx)
	return persistence.Translate("slowquery.store", err)
}
