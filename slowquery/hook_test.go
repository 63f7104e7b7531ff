package slowquery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

type fakeSink struct {
	records []*Record
	err     error
	ctxs    []context.Context
}

func (s *fakeSink) Store(ctx context.Context, rec *Record) error {
	s.ctxs = append(s.ctxs, ctx)
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func event(query string, elapsed time.Duration) *bun.QueryEvent {
	return &bun.QueryEvent{
		Query:     query,
		StartTime: time.Now().Add(-elapsed),
	}
}

func TestNewHookRejectsZeroThreshold(t *testing.T) {
	if _, err := NewHook(Options{}); err == nil {
		t.Fatal("expected validation failure for missing threshold")
	}
}

func TestHookIgnoresFastQueries(t *testing.T) {
	sink := &fakeSink{}
	hook, err := NewHook(Options{Threshold: time.Minute, Sink: sink, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	hook.AfterQuery(context.Background(), event("SELECT 1", time.Millisecond))

	if len(sink.records) != 0 {
		t.Fatalf("fast query captured: %+v", sink.records)
	}
}

func TestHookCapturesSlowQueries(t *testing.T) {
	sink := &fakeSink{}
	hook, err := NewHook(Options{Threshold: time.Millisecond, Sink: sink, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	hook.AfterQuery(context.Background(), event("SELECT pg_sleep(10)", time.Second))

	if len(sink.records) != 1 {
		t.Fatalf("expected one capture, got %d", len(sink.records))
	}
	rec := sink.records[0]
	if rec.Query != "SELECT pg_sleep(10)" {
		t.Fatalf("query = %q", rec.Query)
	}
	if rec.Hash != DefaultHash(rec.Query) {
		t.Fatalf("hash = %q, want default hash", rec.Hash)
	}
	if rec.Duration < 1 {
		t.Fatalf("duration = %v, want at least a second", rec.Duration)
	}
}

func TestHookUsesCustomHash(t *testing.T) {
	sink := &fakeSink{}
	hook, err := NewHook(Options{
		Threshold: time.Millisecond,
		Sink:      sink,
		Hash:      func(string) string { return "fixed" },
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	hook.AfterQuery(context.Background(), event("SELECT 1", time.Second))

	if len(sink.records) != 1 || sink.records[0].Hash != "fixed" {
		t.Fatalf("custom hash not applied: %+v", sink.records)
	}
}

func TestHookSuppressesSinkQueries(t *testing.T) {
	sink := &fakeSink{}
	hook, err := NewHook(Options{Threshold: time.Millisecond, Sink: sink, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	hook.AfterQuery(context.Background(), event("INSERT INTO slow_queries ...", time.Second))
	if len(sink.ctxs) != 1 {
		t.Fatalf("expected one sink call, got %d", len(sink.ctxs))
	}

	// the context handed to the sink must not re-enter capture
	hook.AfterQuery(sink.ctxs[0], event("INSERT INTO slow_queries ...", time.Second))
	if len(sink.records) != 1 {
		t.Fatalf("sink query was captured: %d records", len(sink.records))
	}
}

func TestHookSinkFailureDoesNotPanic(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink down")}
	hook, err := NewHook(Options{Threshold: time.Millisecond, Sink: sink, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	hook.AfterQuery(context.Background(), event("SELECT 1", time.Second))

	if len(sink.ctxs) != 1 {
		t.Fatalf("sink not invoked: %d", len(sink.ctxs))
	}
}

func TestHookWithoutSinkOnlyLogs(t *testing.T) {
	hook, err := NewHook(Options{Threshold: time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	// must not dereference a nil sink
	hook.AfterQuery(context.Background(), event("SELECT 1", time.Second))
}

func TestBeforeQueryPassesContextThrough(t *testing.T) {
	hook, err := NewHook(Options{Threshold: time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}

	ctx := context.Background()
	if got := hook.BeforeQuery(ctx, &bun.QueryEvent{}); got != ctx {
		t.Fatal("BeforeQuery must not replace the context")
	}
}
