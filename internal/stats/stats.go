package stats

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
	"github.com/rosterhq/roster/internal/store"
)

// DupRankSize bounds the most-duplicated-email ranking.
const DupRankSize = 100

// Aggregator owns the counter keyspace. Safe for concurrent use.
type Aggregator struct {
	db *pebblestore.DB
	mu sync.Mutex
}

// New creates an Aggregator over an open Pebble DB.
func New(db *pebblestore.DB) *Aggregator { return &Aggregator{db: db} }

func statusKey(status string) []byte { return []byte("stats/status/" + status) }
func opKey(op string) []byte         { return []byte("stats/op/" + op) }
func sourceKey(source string) []byte { return []byte("stats/source/" + source) }
func hourlyKey(t time.Time) []byte   { return []byte("stats/hourly/" + t.UTC().Format("2006010215")) }
func dailyKey(t time.Time) []byte    { return []byte("stats/daily/" + t.UTC().Format("20060102")) }

var dupEmailsKey = []byte("stats/dup_emails")

// RecordOutcome bumps all counters for one terminal submission outcome.
func (a *Aggregator) RecordOutcome(ctx context.Context, status, operation, source string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.db.NewBatch()
	defer b.Close()
	for _, key := range [][]byte{statusKey(status), opKey(operation), sourceKey(source), hourlyKey(at), dailyKey(at)} {
		n := a.read(key)
		var buf [binary.MaxVarintLen64]byte
		if err := b.Set(key, buf[:binary.PutUvarint(buf[:], n+1)], nil); err != nil {
			return err
		}
	}
	return a.db.CommitBatch(ctx, b)
}

// RecordDuplicate increments the email in the duplicate ranking and
// re-truncates it to the top DupRankSize entries by count.
func (a *Aggregator) RecordDuplicate(ctx context.Context, email string) error {
	norm := store.NormEmail(email)
	if norm == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	rank := map[string]uint64{}
	if raw, err := a.db.Get(dupEmailsKey); err == nil {
		if err := json.Unmarshal(raw, &rank); err != nil {
			rank = map[string]uint64{}
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	rank[norm]++

	if len(rank) > DupRankSize {
		type pair struct {
			email string
			count uint64
		}
		pairs := make([]pair, 0, len(rank))
		for e, c := range rank {
			pairs = append(pairs, pair{e, c})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].count != pairs[j].count {
				return pairs[i].count > pairs[j].count
			}
			return pairs[i].email < pairs[j].email
		})
		rank = make(map[string]uint64, DupRankSize)
		for _, p := range pairs[:DupRankSize] {
			rank[p.email] = p.count
		}
	}

	raw, err := json.Marshal(rank)
	if err != nil {
		return fmt.Errorf("stats: marshal duplicate ranking: %w", err)
	}
	return a.db.Set(dupEmailsKey, raw)
}

// read returns the current value of a counter, 0 when absent.
func (a *Aggregator) read(key []byte) uint64 {
	raw, err := a.db.Get(key)
	if err != nil {
		return 0
	}
	n, _ := binary.Uvarint(raw)
	return n
}

// Count returns one counter by dimension ("status", "op", "source") and value.
func (a *Aggregator) Count(dimension, value string) uint64 {
	switch dimension {
	case "status":
		return a.read(statusKey(value))
	case "op":
		return a.read(opKey(value))
	case "source":
		return a.read(sourceKey(value))
	}
	return 0
}

// DupEntry is one row of the duplicate ranking.
type DupEntry struct {
	Email string `json:"email"`
	Count uint64 `json:"count"`
}

// Snapshot is the dashboard view of all counters.
type Snapshot struct {
	ByStatus      map[string]uint64 `json:"by_status"`
	ByOperation   map[string]uint64 `json:"by_operation"`
	BySource      map[string]uint64 `json:"by_source"`
	Hour          uint64            `json:"hour"`
	Day           uint64            `json:"day"`
	TopDuplicates []DupEntry        `json:"top_duplicates"`
}

// CurrentSnapshot reads the fixed counter set plus the ranking, with
// hour/day relative to now.
func (a *Aggregator) CurrentSnapshot(now time.Time) (*Snapshot, error) {
	s := &Snapshot{
		ByStatus:    map[string]uint64{},
		ByOperation: map[string]uint64{},
		BySource:    map[string]uint64{},
	}
	for _, st := range []string{"completed", "failed"} {
		s.ByStatus[st] = a.read(statusKey(st))
	}
	for _, op := range []string{"create", "update", "delete"} {
		s.ByOperation[op] = a.read(opKey(op))
	}
	for _, src := range []string{"form", "api", "csv"} {
		s.BySource[src] = a.read(sourceKey(src))
	}
	s.Hour = a.read(hourlyKey(now))
	s.Day = a.read(dailyKey(now))

	rank := map[string]uint64{}
	if raw, err := a.db.Get(dupEmailsKey); err == nil {
		_ = json.Unmarshal(raw, &rank)
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, err
	}
	for e, c := range rank {
		s.TopDuplicates = append(s.TopDuplicates, DupEntry{Email: e, Count: c})
	}
	sort.Slice(s.TopDuplicates, func(i, j int) bool {
		if s.TopDuplicates[i].Count != s.TopDuplicates[j].Count {
			return s.TopDuplicates[i].Count > s.TopDuplicates[j].Count
		}
		return s.TopDuplicates[i].Email < s.TopDuplicates[j].Email
	})
	return s, nil
}
