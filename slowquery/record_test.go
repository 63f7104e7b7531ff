package slowquery

import (
	"testing"
	"time"
)

func TestNewRecordCarriesCaptureState(t *testing.T) {
	before := time.Now()
	rec := New("SELECT 1", "abc123", 1.25)

	if rec.Query != "SELECT 1" {
		t.Fatalf("query = %q", rec.Query)
	}
	if rec.Hash != "abc123" {
		t.Fatalf("hash = %q", rec.Hash)
	}
	if rec.Duration != 1.25 {
		t.Fatalf("duration = %v", rec.Duration)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated id")
	}
	if rec.InsertedAt.Before(before) {
		t.Fatalf("inserted_at %v predates construction", rec.InsertedAt)
	}
}

func TestNewRecordGeneratesUniqueIDs(t *testing.T) {
	a := New("SELECT 1", "h", 0.5)
	b := New("SELECT 1", "h", 0.5)
	if a.ID == b.ID {
		t.Fatalf("ids collide: %s", a.ID)
	}
}

func TestNewRecordClampsNegativeDuration(t *testing.T) {
	rec := New("SELECT 1", "h", -3)
	if rec.Duration != 0 {
		t.Fatalf("duration = %v, want 0", rec.Duration)
	}
}

func TestDefaultHashIsStableHex(t *testing.T) {
	first := DefaultHash("SELECT * FROM accounts WHERE id = ?")
	second := DefaultHash("SELECT * FROM accounts WHERE id = ?")
	if first != second {
		t.Fatalf("hash not deterministic: %s vs %s", first, second)
	}
	if len(first) != 16 {
		t.Fatalf("hash length = %d, want 16", len(first))
	}
	if first == DefaultHash("SELECT 1") {
		t.Fatal("distinct queries should not share a hash")
	}
}

func TestIndexesDeclareHashUniqueness(t *testing.T) {
	indexes := Indexes()
	if len(indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(indexes))
	}

	var hashUnique bool
	for _, idx := range indexes {
		if len(idx.Columns) == 1 && idx.Columns[0] == "hash" && idx.Unique {
			hashUnique = true
		}
	}
	if !hashUnique {
		t.Fatal("hash column must carry a unique index")
	}
}
