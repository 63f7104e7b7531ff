package persistence

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

// spyTool records Diff/Apply interactions for the synchronizer tests.
type spyTool struct {
	diffCalls       int
	applyCalls      int
	lastDestructive bool
	stmts           []string
	applied         []string
	diffErr         error
	applyErr        error
}

func (s *spyTool) Diff(ctx context.Context, metas []*Metadata, destructive bool) ([]string, error) {
	s.diffCalls++
	s.lastDestructive = destructive
	return s.stmts, s.diffErr
}

func (s *spyTool) Apply(ctx context.Context, stmts []string) error {
	s.applyCalls++
	s.applied = append(s.applied, stmts...)
	return s.applyErr
}

func populatedRegistry(t *testing.T) *Registry {
	t.Helper()

	registry := NewRegistry()
	if _, err := registry.Register(&TestUser{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry
}

func TestBuildCacheWithoutInvalidateIsNoOp(t *testing.T) {
	tool := &spyTool{stmts: []string{"CREATE TABLE test_users ()"}}
	s := NewSynchronizer(tool, populatedRegistry(t), zerolog.Nop())

	if err := s.BuildCache(context.Background(), true, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.diffCalls != 0 || tool.applyCalls != 0 {
		t.Fatalf("expected no tool calls, got diff=%d apply=%d", tool.diffCalls, tool.applyCalls)
	}
}

func TestBuildCacheEmptyMetadataIsNoOp(t *testing.T) {
	tool := &spyTool{stmts: []string{"CREATE TABLE test_users ()"}}
	s := NewSynchronizer(tool, NewRegistry(), zerolog.Nop())

	if err := s.BuildCache(context.Background(), true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.diffCalls != 0 || tool.applyCalls != 0 {
		t.Fatalf("expected no tool calls, got diff=%d apply=%d", tool.diffCalls, tool.applyCalls)
	}
}

func TestBuildCacheEmptyDiffSkipsApply(t *testing.T) {
	tool := &spyTool{}
	s := NewSynchronizer(tool, populatedRegistry(t), zerolog.Nop())

	if err := s.BuildCache(context.Background(), true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.diffCalls != 1 {
		t.Fatalf("expected one diff, got %d", tool.diffCalls)
	}
	if tool.applyCalls != 0 {
		t.Fatalf("expected no apply with empty diff, got %d", tool.applyCalls)
	}
}

func TestBuildCacheAppliesExactlyComputedStatements(t *testing.T) {
	stmts := []string{"CREATE TABLE test_users ()", "CREATE INDEX idx ON test_users (name)"}
	tool := &spyTool{stmts: stmts}
	s := NewSynchronizer(tool, populatedRegistry(t), zerolog.Nop())

	if err := s.BuildCache(context.Background(), true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.applyCalls != 1 {
		t.Fatalf("expected one apply, got %d", tool.applyCalls)
	}
	if !reflect.DeepEqual(tool.applied, stmts) {
		t.Fatalf("applied %v, want %v", tool.applied, stmts)
	}
}

func TestBuildCacheSaveModeSelectsDestructiveness(t *testing.T) {
	tests := []struct {
		saveMode        bool
		wantDestructive bool
	}{
		{saveMode: true, wantDestructive: false},
		{saveMode: false, wantDestructive: true},
	}

	for _, tc := range tests {
		tool := &spyTool{stmts: []string{"DROP TABLE test_users"}}
		s := NewSynchronizer(tool, populatedRegistry(t), zerolog.Nop())

		if err := s.BuildCache(context.Background(), tc.saveMode, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tool.lastDestructive != tc.wantDestructive {
			t.Fatalf("saveMode=%v: destructive=%v, want %v", tc.saveMode, tool.lastDestructive, tc.wantDestructive)
		}
	}
}

func TestBuildCacheTranslatesToolFailures(t *testing.T) {
	boom := errors.New("ddl rejected")
	tool := &spyTool{stmts: []string{"CREATE TABLE test_users ()"}, applyErr: boom}
	s := NewSynchronizer(tool, populatedRegistry(t), zerolog.Nop())

	err := s.BuildCache(context.Background(), false, true)

	var translated *Error
	if !errors.As(err, &translated) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause discarded: %v", err)
	}
}
