package store

import (
	"context"
	"errors"
	"testing"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
	"github.com/rosterhq/roster/internal/submission"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func newQueuedCreate(s *Store, email string) *submission.Record {
	return &submission.Record{
		ID:        s.NewID(),
		Operation: submission.OpCreate,
		Source:    submission.SourceForm,
		Payload:   map[string]string{"name": "Ada", "email": email},
		Status:    submission.StatusQueued,
		CreatedMs: 1000,
	}
}

func TestSubmissionRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newQueuedCreate(s, "ada@example.com")
	if err := s.InsertSubmission(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetSubmission(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != rec.ID || got.Status != submission.StatusQueued || got.Payload["email"] != "ada@example.com" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSubmission(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateSubmissionReindexesStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newQueuedCreate(s, "ada@example.com")
	if err := s.InsertSubmission(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := s.UpdateSubmission(ctx, rec.ID, func(r *submission.Record) error {
		return r.Transition(submission.StatusProcessing, 2000)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	queued, err := s.ListSubmissions(ctx, ListOptions{Status: submission.StatusQueued})
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("stale queued index entry: %d records", len(queued))
	}
	processing, err := s.ListSubmissions(ctx, ListOptions{Status: submission.StatusProcessing})
	if err != nil {
		t.Fatalf("list processing: %v", err)
	}
	if len(processing) != 1 || processing[0].ID != rec.ID {
		t.Fatalf("want 1 processing record, got %d", len(processing))
	}
}

func TestUpdateSubmissionMutateErrorAborts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := newQueuedCreate(s, "ada@example.com")
	if err := s.InsertSubmission(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// queued -> completed is not a legal edge.
	_, err := s.UpdateSubmission(ctx, rec.ID, func(r *submission.Record) error {
		return r.Transition(submission.StatusCompleted, 2000)
	})
	if err == nil {
		t.Fatalf("illegal transition accepted")
	}
	got, _ := s.GetSubmission(ctx, rec.ID)
	if got.Status != submission.StatusQueued {
		t.Fatalf("record mutated despite error: %s", got.Status)
	}
}

func TestFindCompletedCreateByEmail(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := newQueuedCreate(s, "Ada@Example.com ")
	if err := s.InsertSubmission(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Not completed yet: no match.
	if _, err := s.FindCompletedCreateByEmail(ctx, "ada@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("matched non-completed record: %v", err)
	}

	if _, err := s.UpdateSubmission(ctx, rec.ID, func(r *submission.Record) error {
		if err := r.Transition(submission.StatusProcessing, 2000); err != nil {
			return err
		}
		return r.Transition(submission.StatusCompleted, 2001)
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// The lookup normalizes case and whitespace.
	got, err := s.FindCompletedCreateByEmail(ctx, "ADA@example.COM")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("want %s, got %s", rec.ID, got.ID)
	}
}

func TestListSubmissionsCELFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := newQueuedCreate(s, "a@example.com")
	b := newQueuedCreate(s, "b@example.com")
	b.Source = submission.SourceCSV
	b.CSVRow = 3
	for _, rec := range []*submission.Record{a, b} {
		if err := s.InsertSubmission(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.ListSubmissions(ctx, ListOptions{Filter: `source == "csv" && csv_row > 1`})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("filter missed: %d records", len(got))
	}

	got, err = s.ListSubmissions(ctx, ListOptions{Filter: `payload["email"] == "a@example.com"`})
	if err != nil {
		t.Fatalf("payload filter: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("payload filter missed: %d records", len(got))
	}

	if _, err := s.ListSubmissions(ctx, ListOptions{Filter: `status ==`}); err == nil {
		t.Fatalf("bad expression accepted")
	}
}

func TestListSubmissionsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.InsertSubmission(ctx, newQueuedCreate(s, "x@example.com")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got, err := s.ListSubmissions(ctx, ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3, got %d", len(got))
	}
}

func TestPersonLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := &Person{ID: s.NewID(), Name: "Ada", Email: "ada@example.com", CreatedMs: 1000}
	if err := s.InsertPerson(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.FindPersonByEmail(ctx, " ADA@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("want %s, got %s", p.ID, got.ID)
	}

	// Email change moves the index entry.
	if _, err := s.UpdatePerson(ctx, p.ID, func(p *Person) error {
		p.Email = "lovelace@example.com"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.FindPersonByEmail(ctx, "ada@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale email index: %v", err)
	}
	if _, err := s.FindPersonByEmail(ctx, "lovelace@example.com"); err != nil {
		t.Fatalf("new email not indexed: %v", err)
	}

	if err := s.DeletePerson(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPerson(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("person survived delete: %v", err)
	}
	if _, err := s.FindPersonByEmail(ctx, "lovelace@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("email index survived delete: %v", err)
	}
	if err := s.DeletePerson(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestNormEmail(t *testing.T) {
	cases := map[string]string{
		"  Ada@Example.COM ": "ada@example.com",
		"ada@example.com":    "ada@example.com",
		"":                   "",
	}
	for in, want := range cases {
		if got := NormEmail(in); got != want {
			t.Fatalf("NormEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
