package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
)

func openTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestRecordOutcomeBumpsAllDimensions(t *testing.T) {
	a := openTestAggregator(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := a.RecordOutcome(ctx, "completed", "create", "form", at); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := a.RecordOutcome(ctx, "failed", "create", "csv", at); err != nil {
		t.Fatalf("record: %v", err)
	}

	if got := a.Count("status", "completed"); got != 3 {
		t.Fatalf("completed = %d, want 3", got)
	}
	if got := a.Count("status", "failed"); got != 1 {
		t.Fatalf("failed = %d, want 1", got)
	}
	if got := a.Count("op", "create"); got != 4 {
		t.Fatalf("op create = %d, want 4", got)
	}
	if got := a.Count("source", "form"); got != 3 {
		t.Fatalf("source form = %d, want 3", got)
	}
	if got := a.Count("source", "csv"); got != 1 {
		t.Fatalf("source csv = %d, want 1", got)
	}
	if got := a.Count("nope", "x"); got != 0 {
		t.Fatalf("unknown dimension = %d, want 0", got)
	}
}

func TestSnapshotWindowsFollowClock(t *testing.T) {
	a := openTestAggregator(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if err := a.RecordOutcome(ctx, "completed", "create", "form", at); err != nil {
		t.Fatalf("record: %v", err)
	}

	s, err := a.CurrentSnapshot(at)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Hour != 1 || s.Day != 1 {
		t.Fatalf("want hour=1 day=1, got hour=%d day=%d", s.Hour, s.Day)
	}

	// Next hour, same day.
	s, err = a.CurrentSnapshot(at.Add(time.Hour))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Hour != 0 || s.Day != 1 {
		t.Fatalf("hour window leaked: hour=%d day=%d", s.Hour, s.Day)
	}

	// Next day.
	s, err = a.CurrentSnapshot(at.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Hour != 0 || s.Day != 0 {
		t.Fatalf("day window leaked: hour=%d day=%d", s.Hour, s.Day)
	}
}

func TestRecordDuplicateRanks(t *testing.T) {
	a := openTestAggregator(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := a.RecordDuplicate(ctx, "Hot@Example.com"); err != nil {
			t.Fatalf("dup: %v", err)
		}
	}
	if err := a.RecordDuplicate(ctx, "warm@example.com"); err != nil {
		t.Fatalf("dup: %v", err)
	}
	if err := a.RecordDuplicate(ctx, "   "); err != nil {
		t.Fatalf("blank dup: %v", err)
	}

	s, err := a.CurrentSnapshot(time.Now())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(s.TopDuplicates) != 2 {
		t.Fatalf("want 2 ranked emails, got %d", len(s.TopDuplicates))
	}
	if s.TopDuplicates[0].Email != "hot@example.com" || s.TopDuplicates[0].Count != 3 {
		t.Fatalf("rank head wrong: %+v", s.TopDuplicates[0])
	}
}

func TestDuplicateRankTruncates(t *testing.T) {
	a := openTestAggregator(t)
	ctx := context.Background()

	// One heavy hitter, then enough singles to overflow the rank.
	for i := 0; i < 5; i++ {
		if err := a.RecordDuplicate(ctx, "keep@example.com"); err != nil {
			t.Fatalf("dup: %v", err)
		}
	}
	for i := 0; i < DupRankSize+20; i++ {
		if err := a.RecordDuplicate(ctx, fmt.Sprintf("bulk%03d@example.com", i)); err != nil {
			t.Fatalf("dup: %v", err)
		}
	}

	s, err := a.CurrentSnapshot(time.Now())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(s.TopDuplicates) > DupRankSize {
		t.Fatalf("rank not truncated: %d entries", len(s.TopDuplicates))
	}
	if s.TopDuplicates[0].Email != "keep@example.com" {
		t.Fatalf("heavy hitter evicted: %+v", s.TopDuplicates[0])
	}
}
