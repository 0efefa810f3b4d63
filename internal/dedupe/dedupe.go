package dedupe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rosterhq/roster/internal/store"
)

// Kind identifies what a candidate email collided with.
type Kind string

const (
	// KindPerson: an active person already carries the email.
	KindPerson Kind = "person"
	// KindSubmission: a completed create submission carries the email
	// (replay window before or without a visible person write).
	KindSubmission Kind = "submission"
	// KindBatchRow: an earlier row in the same batch claimed the email.
	KindBatchRow Kind = "batch_row"
)

// Match describes the pre-existing reference a duplicate collided with.
type Match struct {
	Kind Kind
	// Ref is the id of the person, submission, or sibling submission row.
	Ref string
}

func (m *Match) String() string {
	switch m.Kind {
	case KindPerson:
		return fmt.Sprintf("a student with this email already exists (person %s)", m.Ref)
	case KindSubmission:
		return fmt.Sprintf("a completed submission already created this email (submission %s)", m.Ref)
	case KindBatchRow:
		return fmt.Sprintf("duplicate email within the same upload (first seen in submission %s)", m.Ref)
	}
	return "duplicate email"
}

// BatchSeen tracks emails claimed by earlier rows of one batch pass.
// It is not safe for concurrent use; one batch is processed by the
// single worker holding the item's lease.
type BatchSeen struct {
	byEmail map[string]string
}

// NewBatchSeen creates an empty intra-batch tracker.
func NewBatchSeen() *BatchSeen {
	return &BatchSeen{byEmail: map[string]string{}}
}

// Claim records that the row owns the email from here on.
func (b *BatchSeen) Claim(email, submissionID string) {
	if b == nil {
		return
	}
	b.byEmail[store.NormEmail(email)] = submissionID
}

func (b *BatchSeen) lookup(email string) (string, bool) {
	if b == nil {
		return "", false
	}
	ref, ok := b.byEmail[store.NormEmail(email)]
	return ref, ok
}

// Detector checks candidate emails against the record store and the
// current batch.
type Detector struct {
	store *store.Store
}

// New creates a Detector.
func New(s *store.Store) *Detector { return &Detector{store: s} }

// Check returns a Match when the email is already taken, nil when it is
// free. ignoreID skips a person match against that id, so updating
// other fields of the same person does not self-collide. Store errors
// other than not-found propagate; they are infrastructure failures and
// retryable.
func (d *Detector) Check(ctx context.Context, email string, ignoreID string, batch *BatchSeen) (*Match, error) {
	if store.NormEmail(email) == "" {
		return nil, nil
	}
	// Batch scope first: inside one upload, input order is the
	// tie-break regardless of what the store holds.
	if ref, ok := batch.lookup(email); ok {
		return &Match{Kind: KindBatchRow, Ref: ref}, nil
	}

	p, err := d.store.FindPersonByEmail(ctx, email)
	switch {
	case err == nil:
		if ignoreID != "" && p.ID == ignoreID {
			// Self-match on update: the email already belongs to the
			// record being updated, so it is not a collision.
			return nil, nil
		}
		return &Match{Kind: KindPerson, Ref: p.ID}, nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("dedupe: person lookup: %w", err)
	}

	rec, err := d.store.FindCompletedCreateByEmail(ctx, email)
	switch {
	case err == nil:
		return &Match{Kind: KindSubmission, Ref: rec.ID}, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("dedupe: submission lookup: %w", err)
	}
}
