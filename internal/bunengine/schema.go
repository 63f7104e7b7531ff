package bunengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-persistence-bun/persistence"
)

// SchemaTool computes and applies DDL with bun's query builders. It
// implements persistence.SchemaTool.
type SchemaTool struct {
	db *bun.DB
}

var _ persistence.SchemaTool = (*SchemaTool)(nil)

// NewSchemaTool builds a schema tool over a bun handle.
func NewSchemaTool(db *bun.DB) *SchemaTool {
	return &SchemaTool{db: db}
}

// Diff returns the statements needed to agree live storage with the declared
// metadata. Additive mode only creates what is missing; destructive mode
// drops and recreates tables that already exist so column drift is resolved
// too. Declared secondary indexes are (re)created in both modes.
func (t *SchemaTool) Diff(ctx context.Context, metas []*persistence.Metadata, destructive bool) ([]string, error) {
	var stmts []string

	for _, meta := range metas {
		exists, err := t.tableExists(ctx, meta.Table)
		if err != nil {
			return nil, err
		}

		switch {
		case !exists:
			create, err := t.createTableSQL(meta)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, create)

		case destructive:
			drop, err := t.dropTableSQL(meta)
			if err != nil {
				return nil, err
			}
			create, err := t.createTableSQL(meta)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, drop, create)
		}

		for _, idx := range meta.Indexes {
			stmts = append(stmts, createIndexSQL(meta.Table, idx))
		}
	}

	return stmts, nil
}

// Apply executes the statements in order, stopping at the first failure.
func (t *SchemaTool) Apply(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := t.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying %q: %w", stmt, err)
		}
	}
	return nil
}

func (t *SchemaTool) createTableSQL(meta *persistence.Metadata) (string, error) {
	q := t.db.NewCreateTable().Model(meta.New()).IfNotExists()
	return t.render(q)
}

func (t *SchemaTool) dropTableSQL(meta *persistence.Metadata) (string, error) {
	q := t.db.NewDropTable().Model(meta.New()).IfExists()
	return t.render(q)
}

func (t *SchemaTool) render(q schema.QueryAppender) (string, error) {
	b, err := q.AppendQuery(t.db.Formatter(), nil)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (t *SchemaTool) tableExists(ctx context.Context, table string) (bool, error) {
	var count int
	var err error

	switch t.db.Dialect().Name() {
	case dialect.PG:
		err = t.db.NewSelect().
			TableExpr("information_schema.tables").
			ColumnExpr("count(*)").
			Where("table_name = ?", table).
			Scan(ctx, &count)
	default:
		err = t.db.NewSelect().
			TableExpr("sqlite_master").
			ColumnExpr("count(*)").
			Where("type = 'table'").
			Where("name = ?", table).
			Scan(ctx, &count)
	}

	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func createIndexSQL(table string, idx persistence.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf(
		"CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, idx.Name, table, strings.Join(idx.Columns, ", "),
	)
}
