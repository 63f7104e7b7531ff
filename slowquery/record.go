// Package slowquery captures database statements whose execution time
// crosses a threshold: a bun query hook observes every query, records over
// the threshold are persisted through the manager for later inspection, and
// Prometheus counters expose the aggregate statistics.
package slowquery

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-persistence-bun/persistence"
)

// Record is one captured slow statement. All fields except the generated ID
// are fixed at construction; records are inserted once and never updated.
// Hash uniqueness is enforced by the storage layer's unique constraint, not
// here, so callers can deduplicate by hash.
type Record struct {
	bun.BaseModel `bun:"table:slow_queries,alias:sq"`

	ID         string    `bun:"id,pk"`
	Query      string    `bun:"query,notnull"`
	Hash       string    `bun:"hash,notnull,unique"`
	Duration   float64   `bun:"duration,notnull"`
	InsertedAt time.Time `bun:"inserted_at,notnull"`
}

// New builds a record with a generated identifier and the capture timestamp
// set to now. Negative durations clamp to zero.
func New(query, hash string, duration float64) *Record {
	if duration < 0 {
		duration = 0
	}
	return &Record{
		ID:         uuid.NewString(),
		Query:      query,
		Hash:       hash,
		Duration:   duration,
		InsertedAt: time.Now(),
	}
}

// DefaultHash is the default deduplication hash: xxhash64 of the raw query
// text, fixed-width hex. Callers needing normalization (parameter stripping,
// whitespace folding) supply their own function to the hook.
func DefaultHash(query string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(query))
}

// Indexes declares the secondary indexes the schema synchronizer maintains
// for the slow-query table: hash alone and the (id, hash) composite.
func Indexes() []persistence.Index {
	return []persistence.Index{
		{Name: "idx_slow_queries_hash", Columns: []string{"hash"}, Unique: true},
		{Name: "idx_slow_queries_id_hash", Columns: []string{"id", "hash"}},
	}
}

// Register declares the record with a manager, wiring the table mapping and
// its indexes.
func Register(m *persistence.Manager) (*persistence.Metadata, error) {
	return m.Register(&Record{},
		persistence.WithTable("slow_queries"),
		persistence.WithIndexes(Indexes()...))
}
