// Package notify persists human-readable notification records for the
// dashboard feed. Records are keyed by sortable id, so a reverse scan
// yields newest-first; expired entries are purged lazily during reads.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
	"github.com/rosterhq/roster/pkg/id"
)

// Kind drives the dashboard's icon/color classification.
type Kind string

const (
	KindSuccess   Kind = "success"
	KindFailure   Kind = "failure"
	KindDuplicate Kind = "duplicate"
)

// Notification is one durable feed entry.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Kind      Kind   `json:"kind"`
	CreatedMs int64  `json:"created_ms"`
	// ExpiresMs of 0 means the entry does not expire.
	ExpiresMs int64 `json:"expires_ms,omitempty"`
}

const keyPrefix = "notif/"

// Store persists notifications in Pebble.
type Store struct {
	db  *pebblestore.DB
	gen *id.Generator
	// DefaultTTL applies when Create is called without an expiry.
	DefaultTTL time.Duration
}

// NewStore creates a notification store. ttl <= 0 disables expiry.
func NewStore(db *pebblestore.DB, ttl time.Duration) *Store {
	return &Store{db: db, gen: id.NewGenerator(), DefaultTTL: ttl}
}

// Create persists a notification, assigning id and timestamps.
func (s *Store) Create(ctx context.Context, title, message string, kind Kind) (*Notification, error) {
	now := time.Now()
	n := &Notification{
		ID:        s.gen.Next().String(),
		Title:     title,
		Message:   message,
		Kind:      kind,
		CreatedMs: now.UnixMilli(),
	}
	if s.DefaultTTL > 0 {
		n.ExpiresMs = now.Add(s.DefaultTTL).UnixMilli()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal: %w", err)
	}
	if err := s.db.Set([]byte(keyPrefix+n.ID), raw); err != nil {
		return nil, err
	}
	return n, nil
}

// Recent returns up to limit unexpired notifications, newest first.
// Expired entries encountered during the scan are deleted.
func (s *Store) Recent(ctx context.Context, limit int, nowMs int64) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lo, hi := pebblestore.PrefixBounds([]byte(keyPrefix))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Notification
	var expired [][]byte
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var n Notification
		if err := json.Unmarshal(iter.Value(), &n); err != nil {
			continue
		}
		if n.ExpiresMs > 0 && n.ExpiresMs <= nowMs {
			expired = append(expired, append([]byte(nil), iter.Key()...))
			continue
		}
		out = append(out, &n)
	}
	for _, key := range expired {
		_ = s.db.Delete(key)
	}
	return out, nil
}
