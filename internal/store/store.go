package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
	"github.com/rosterhq/roster/internal/submission"
	"github.com/rosterhq/roster/pkg/id"
)

// ErrNotFound is returned when no document matches.
var ErrNotFound = errors.New("store: not found")

// Store provides typed access to the submission and person collections.
// Writers hold the store mutex through each read-modify-write cycle;
// cross-document coordination comes from the queue's lease protocol.
type Store struct {
	db  *pebblestore.DB
	gen *id.Generator
	mu  sync.Mutex
}

// New creates a Store over an open Pebble DB.
func New(db *pebblestore.DB) *Store {
	return &Store{db: db, gen: id.NewGenerator()}
}

// NewID returns a fresh sortable identifier.
func (s *Store) NewID() string { return s.gen.Next().String() }

// --- submissions ---

// InsertSubmission writes a new submission record and its indexes.
func (s *Store) InsertSubmission(ctx context.Context, rec *submission.Record) error {
	if rec.ID == "" {
		return errors.New("store: submission id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal submission: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(DocKey(CollectionSubmissions, rec.ID), doc, nil); err != nil {
		return err
	}
	if err := b.Set(StatusIdxKey(CollectionSubmissions, string(rec.Status), rec.ID), nil, nil); err != nil {
		return err
	}
	if email := rec.Email(); email != "" {
		if err := b.Set(EmailIdxKey(CollectionSubmissions, email, rec.ID), nil, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// GetSubmission loads a submission record by id.
func (s *Store) GetSubmission(ctx context.Context, recID string) (*submission.Record, error) {
	raw, err := s.db.Get(DocKey(CollectionSubmissions, recID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec submission.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode submission %s: %w", recID, err)
	}
	return &rec, nil
}

// UpdateSubmission applies mutate under the store lock and rewrites the
// document with its indexes kept in step.
func (s *Store) UpdateSubmission(ctx context.Context, recID string, mutate func(*submission.Record) error) (*submission.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.GetSubmission(ctx, recID)
	if err != nil {
		return nil, err
	}
	oldStatus, oldEmail := rec.Status, rec.Email()
	if err := mutate(rec); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("store: marshal submission: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(DocKey(CollectionSubmissions, rec.ID), doc, nil); err != nil {
		return nil, err
	}
	if rec.Status != oldStatus {
		if err := b.Delete(StatusIdxKey(CollectionSubmissions, string(oldStatus), rec.ID), nil); err != nil {
			return nil, err
		}
		if err := b.Set(StatusIdxKey(CollectionSubmissions, string(rec.Status), rec.ID), nil, nil); err != nil {
			return nil, err
		}
	}
	if newEmail := rec.Email(); NormEmail(newEmail) != NormEmail(oldEmail) {
		if oldEmail != "" {
			if err := b.Delete(EmailIdxKey(CollectionSubmissions, oldEmail, rec.ID), nil); err != nil {
				return nil, err
			}
		}
		if newEmail != "" {
			if err := b.Set(EmailIdxKey(CollectionSubmissions, newEmail, rec.ID), nil, nil); err != nil {
				return nil, err
			}
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return rec, nil
}

// FindCompletedCreateByEmail returns the oldest completed create
// submission carrying the email, if any. Used by the duplicate
// detector as the cross-batch fallback when no person exists yet.
func (s *Store) FindCompletedCreateByEmail(ctx context.Context, email string) (*submission.Record, error) {
	lo, hi := pebblestore.PrefixBounds(EmailIdxPrefix(CollectionSubmissions, email))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		recID := string(iter.Key()[len(lo):])
		rec, err := s.GetSubmission(ctx, recID)
		if err != nil {
			continue
		}
		if rec.Operation == submission.OpCreate && rec.Status == submission.StatusCompleted {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// ListOptions narrows ListSubmissions.
type ListOptions struct {
	// Status restricts the scan to one status index. Empty scans all.
	Status submission.Status
	// Filter is an optional CEL expression over record fields.
	Filter string
	// Limit bounds the result set. <= 0 means 100.
	Limit int
}

// ListSubmissions returns records in id (creation) order.
func (s *Store) ListSubmissions(ctx context.Context, opts ListOptions) ([]*submission.Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	var ids []string
	if opts.Status != "" {
		lo, hi := pebblestore.PrefixBounds(StatusIdxPrefix(CollectionSubmissions, string(opts.Status)))
		iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if err != nil {
			return nil, err
		}
		for ok := iter.First(); ok; ok = iter.Next() {
			ids = append(ids, string(iter.Key()[len(lo):]))
		}
		iter.Close()
	} else {
		lo, hi := pebblestore.PrefixBounds(DocPrefix(CollectionSubmissions))
		iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
		if err != nil {
			return nil, err
		}
		for ok := iter.First(); ok; ok = iter.Next() {
			ids = append(ids, string(iter.Key()[len(lo):]))
		}
		iter.Close()
	}

	out := make([]*submission.Record, 0, limit)
	for _, recID := range ids {
		rec, err := s.GetSubmission(ctx, recID)
		if err != nil {
			continue
		}
		if !filter.Eval(rec) {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- persons ---

// InsertPerson writes a new person and its email index.
func (s *Store) InsertPerson(ctx context.Context, p *Person) error {
	if p.ID == "" {
		return errors.New("store: person id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writePersonLocked(ctx, p, "")
}

// UpdatePerson applies mutate to an existing person.
func (s *Store) UpdatePerson(ctx context.Context, personID string, mutate func(*Person) error) (*Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	oldEmail := p.Email
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := s.writePersonLocked(ctx, p, oldEmail); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) writePersonLocked(ctx context.Context, p *Person, oldEmail string) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal person: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(DocKey(CollectionPersons, p.ID), doc, nil); err != nil {
		return err
	}
	if oldEmail != "" && NormEmail(oldEmail) != NormEmail(p.Email) {
		if err := b.Delete(EmailIdxKey(CollectionPersons, oldEmail, p.ID), nil); err != nil {
			return err
		}
	}
	if p.Email != "" {
		if err := b.Set(EmailIdxKey(CollectionPersons, p.Email, p.ID), nil, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

// GetPerson loads a person by id.
func (s *Store) GetPerson(ctx context.Context, personID string) (*Person, error) {
	raw, err := s.db.Get(DocKey(CollectionPersons, personID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var p Person
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode person %s: %w", personID, err)
	}
	return &p, nil
}

// FindPersonByEmail returns the person indexed under the normalized
// email, or ErrNotFound.
func (s *Store) FindPersonByEmail(ctx context.Context, email string) (*Person, error) {
	lo, hi := pebblestore.PrefixBounds(EmailIdxPrefix(CollectionPersons, email))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		personID := string(iter.Key()[len(lo):])
		if p, err := s.GetPerson(ctx, personID); err == nil {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

// DeletePerson removes a person and its email index.
func (s *Store) DeletePerson(ctx context.Context, personID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.GetPerson(ctx, personID)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(DocKey(CollectionPersons, personID), nil); err != nil {
		return err
	}
	if p.Email != "" {
		if err := b.Delete(EmailIdxKey(CollectionPersons, p.Email, personID), nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}
