package persistence

import (
	"context"

	"github.com/rs/zerolog"
)

// SchemaTool computes and applies the DDL needed to bring live storage into
// agreement with declared metadata. The bun-backed implementation lives in
// internal/bunengine; tests substitute spies.
type SchemaTool interface {
	// Diff returns the DDL statements required for the given metadata set.
	// With destructive set, conflicting structures are dropped and
	// recreated; otherwise only additive statements are produced.
	Diff(ctx context.Context, metas []*Metadata, destructive bool) ([]string, error)

	// Apply executes the given DDL statements in order.
	Apply(ctx context.Context, stmts []string) error
}

// Synchronizer coordinates one-time or on-demand schema synchronization
// against a live database. It is a development and deployment-time tool: it
// performs schema introspection and DDL execution, and is not safe to run
// concurrently with live traffic without external coordination.
type Synchronizer struct {
	tool     SchemaTool
	resolver MetadataResolver
	logger   zerolog.Logger
}

// NewSynchronizer builds a synchronizer over a schema tool and the declared
// metadata.
func NewSynchronizer(tool SchemaTool, resolver MetadataResolver, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{tool: tool, resolver: resolver, logger: logger}
}

// BuildCache synchronizes the live schema with declared metadata when
// invalidation is requested. With invalidate false the schema is assumed
// current and nothing runs, not even introspection. With invalidate true,
// an empty metadata set or an empty diff are both no-ops; otherwise exactly
// the computed statements are applied. saveMode true keeps the sync
// additive-only, saveMode false allows dropping and recreating conflicting
// structures.
func (s *Synchronizer) BuildCache(ctx context.Context, saveMode, invalidate bool) error {
	if !invalidate {
		return nil
	}

	metas := s.resolver.All()
	if len(metas) == 0 {
		return nil
	}

	stmts, err := s.tool.Diff(ctx, metas, !saveMode)
	if err != nil {
		return Translate("schema.diff", err)
	}
	if len(stmts) == 0 {
		return nil
	}

	s.logger.Info().
		Int("statements", len(stmts)).
		Bool("destructive", !saveMode).
		Msg("synchronizing schema with declared metadata")

	if err := s.tool.Apply(ctx, stmts); err != nil {
		return Translate("schema.apply", err)
	}
	return nil
}
