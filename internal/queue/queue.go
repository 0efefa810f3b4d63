package queue

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
)

// ErrEmpty is returned by Reserve when no item is ready.
var ErrEmpty = errors.New("queue: no item ready")

// Tube is one named FIFO work queue with lease-based delivery.
type Tube struct {
	db   *pebblestore.DB
	name string

	mu      sync.Mutex
	lastSeq uint64

	sweepStop chan struct{}
}

// Open initializes a Tube and restores lastSeq from metadata if present.
func Open(db *pebblestore.DB, name string) (*Tube, error) {
	if name == "" {
		return nil, errors.New("queue: tube name is required")
	}
	t := &Tube{db: db, name: name}
	if meta, err := db.Get(MetaKey(name)); err == nil && len(meta) >= 8 {
		t.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return t, nil
}

// Name returns the tube name.
func (t *Tube) Name() string { return t.name }

// Put inserts an item, available immediately or after delay.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (t *Tube) Put(ctx context.Context, header, payload []byte, delay time.Duration, nowMs int64) (uint64, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.db.NewBatch()
	defer b.Close()

	t.lastSeq++
	seq := t.lastSeq
	if err := b.Set(MsgKey(t.name, seq), EncodeItem(header, payload), nil); err != nil {
		return 0, err
	}
	if delay > 0 {
		fire := uint64(nowMs + delay.Milliseconds())
		if err := b.Set(DelayKey(t.name, fire, seq), nil, nil); err != nil {
			return 0, err
		}
	} else {
		if err := b.Set(ReadyKey(t.name, seq), nil, nil); err != nil {
			return 0, err
		}
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], t.lastSeq)
	if err := b.Set(MetaKey(t.name), meta[:], nil); err != nil {
		return 0, err
	}
	if err := t.db.CommitBatch(ctx, b); err != nil {
		return 0, err
	}
	return seq, nil
}

// Reserved represents an item held under a lease.
type Reserved struct {
	Tube     string
	Seq      uint64
	Header   []byte
	Payload  []byte
	Attempts uint32
	ExpiryMs int64
}

// promoteDue moves delayed items whose fire time has passed into the ready index.
func (t *Tube) promoteDue(ctx context.Context, nowMs int64, max int) error {
	lo, hi := pebblestore.PrefixBounds(DelayPrefix(t.name))
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()

	b := t.db.NewBatch()
	defer b.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(lo)+16 {
			continue
		}
		fire := int64(binary.BigEndian.Uint64(key[len(lo) : len(lo)+8]))
		if fire > nowMs {
			break
		}
		seq, okSeq := seqFromKeyTail(key)
		if !okSeq {
			continue
		}
		if err := b.Delete(key, nil); err != nil {
			return err
		}
		if err := b.Set(ReadyKey(t.name, seq), nil, nil); err != nil {
			return err
		}
		promoted++
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted == 0 {
		return nil
	}
	return t.db.CommitBatch(ctx, b)
}

// Reserve acquires the oldest ready item under a lease of leaseMs.
// Returns ErrEmpty when nothing is ready. Due delayed items are
// promoted first. If nowMs <= 0, time.Now().UnixMilli() is used.
func (t *Tube) Reserve(ctx context.Context, leaseMs int64, nowMs int64) (*Reserved, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}
	if err := t.promoteDue(ctx, nowMs, 64); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lo, hi := pebblestore.PrefixBounds(ReadyPrefix(t.name))
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	b := t.db.NewBatch()
	defer b.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		seq, okSeq := seqFromKeyTail(iter.Key())
		if !okSeq {
			continue
		}
		val, errGet := t.db.Get(MsgKey(t.name, seq))
		if errGet != nil {
			// Stale index entry; drop it and keep scanning.
			_ = b.Delete(iter.Key(), nil)
			continue
		}
		dec, okDec := DecodeItem(val)
		if !okDec {
			_ = b.Delete(iter.Key(), nil)
			continue
		}
		attempts := t.attemptsLocked(seq)
		exp := nowMs + leaseMs
		var lbuf [12]byte
		binary.BigEndian.PutUint64(lbuf[0:8], uint64(exp))
		binary.BigEndian.PutUint32(lbuf[8:12], attempts)
		if err := b.Set(LeaseKey(t.name, seq), lbuf[:], nil); err != nil {
			return nil, err
		}
		if err := b.Set(LeaseIdxKey(t.name, uint64(exp), seq), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return nil, err
		}
		if err := t.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
		return &Reserved{
			Tube:     t.name,
			Seq:      seq,
			Header:   dec.Header,
			Payload:  dec.Payload,
			Attempts: attempts,
			ExpiryMs: exp,
		}, nil
	}
	// Commit any stale-entry cleanup even when empty-handed.
	if b.Len() > 0 {
		_ = t.db.CommitBatch(ctx, b)
	}
	return nil, ErrEmpty
}

// attemptsLocked reads the delivery attempt count carried on the lease
// record, surviving release cycles.
func (t *Tube) attemptsLocked(seq uint64) uint32 {
	existing, err := t.db.Get(LeaseKey(t.name, seq))
	if err != nil || len(existing) < 12 {
		return 0
	}
	return binary.BigEndian.Uint32(existing[8:12])
}

// Attempts returns the recorded delivery attempts for an item.
func (t *Tube) Attempts(seq uint64) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attemptsLocked(seq)
}

// Delete acknowledges an item, removing its lease and body.
func (t *Tube) Delete(ctx context.Context, seq uint64) error {
	b := t.db.NewBatch()
	defer b.Close()
	t.clearLease(b, seq)
	if err := b.Delete(MsgKey(t.name, seq), nil); err != nil {
		return err
	}
	return t.db.CommitBatch(ctx, b)
}

// Release returns a leased item to the tube, optionally after a delay,
// and increments its attempt count. If nowMs <= 0, the wall clock is used.
func (t *Tube) Release(ctx context.Context, seq uint64, delay time.Duration, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	attempts := t.attemptsLocked(seq) + 1
	b := t.db.NewBatch()
	defer b.Close()
	t.clearLease(b, seq)
	if delay > 0 {
		fire := uint64(nowMs + delay.Milliseconds())
		if err := b.Set(DelayKey(t.name, fire, seq), nil, nil); err != nil {
			return err
		}
	} else {
		if err := b.Set(ReadyKey(t.name, seq), nil, nil); err != nil {
			return err
		}
	}
	// Attempts survive on the lease record while the item waits again.
	var lbuf [12]byte
	binary.BigEndian.PutUint64(lbuf[0:8], uint64(nowMs))
	binary.BigEndian.PutUint32(lbuf[8:12], attempts)
	if err := b.Set(LeaseKey(t.name, seq), lbuf[:], nil); err != nil {
		return err
	}
	return t.db.CommitBatch(ctx, b)
}

// Bury dead-letters an item: the body moves to the buried set and the
// item leaves normal delivery until kicked by an operator.
func (t *Tube) Bury(ctx context.Context, seq uint64) error {
	val, err := t.db.Get(MsgKey(t.name, seq))
	if err != nil {
		return fmt.Errorf("queue: bury %s/%d: %w", t.name, seq, err)
	}
	b := t.db.NewBatch()
	defer b.Close()
	t.clearLease(b, seq)
	if err := b.Set(BuriedKey(t.name, seq), val, nil); err != nil {
		return err
	}
	if err := b.Delete(MsgKey(t.name, seq), nil); err != nil {
		return err
	}
	return t.db.CommitBatch(ctx, b)
}

// Kick returns a buried item to the ready index.
func (t *Tube) Kick(ctx context.Context, seq uint64) error {
	val, err := t.db.Get(BuriedKey(t.name, seq))
	if err != nil {
		return fmt.Errorf("queue: kick %s/%d: %w", t.name, seq, err)
	}
	b := t.db.NewBatch()
	defer b.Close()
	if err := b.Set(MsgKey(t.name, seq), val, nil); err != nil {
		return err
	}
	if err := b.Set(ReadyKey(t.name, seq), nil, nil); err != nil {
		return err
	}
	if err := b.Delete(BuriedKey(t.name, seq), nil); err != nil {
		return err
	}
	return t.db.CommitBatch(ctx, b)
}

// Touch extends the lease on an item by leaseMs, preserving attempts.
func (t *Tube) Touch(ctx context.Context, seq uint64, leaseMs int64, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	attempts := t.attemptsLocked(seq)
	exp := nowMs + leaseMs
	b := t.db.NewBatch()
	defer b.Close()
	var lbuf [12]byte
	binary.BigEndian.PutUint64(lbuf[0:8], uint64(exp))
	binary.BigEndian.PutUint32(lbuf[8:12], attempts)
	if err := b.Set(LeaseKey(t.name, seq), lbuf[:], nil); err != nil {
		return err
	}
	if err := b.Set(LeaseIdxKey(t.name, uint64(exp), seq), nil, nil); err != nil {
		return err
	}
	return t.db.CommitBatch(ctx, b)
}

// clearLease removes the lease record and any expiry index entries for seq.
func (t *Tube) clearLease(b *pebble.Batch, seq uint64) {
	_ = b.Delete(LeaseKey(t.name, seq), nil)
	lo, hi := pebblestore.PrefixBounds(LeaseIdxPrefix(t.name))
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		if s, okSeq := seqFromKeyTail(iter.Key()); okSeq && s == seq {
			_ = b.Delete(iter.Key(), nil)
		}
	}
}

// ReclaimExpired returns items with expired leases to the ready index.
// The reserved item becomes eligible for redelivery to another worker;
// this is the crash-recovery half of at-least-once delivery.
func (t *Tube) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	lo, hi := pebblestore.PrefixBounds(LeaseIdxPrefix(t.name))
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.db.NewBatch()
	defer b.Close()
	reclaimed := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if len(k) < len(lo)+16 {
			continue
		}
		exp := int64(binary.BigEndian.Uint64(k[len(lo) : len(lo)+8]))
		if exp > nowMs {
			break
		}
		seq, okSeq := seqFromKeyTail(k)
		if !okSeq {
			continue
		}
		_ = b.Delete(k, nil)
		// Only reclaim items still holding a live lease with this expiry;
		// otherwise this is a stale index entry from Touch or Delete.
		lease, errGet := t.db.Get(LeaseKey(t.name, seq))
		if errGet != nil || len(lease) < 12 {
			continue
		}
		if int64(binary.BigEndian.Uint64(lease[0:8])) != exp {
			continue
		}
		if has, _ := t.db.Has(MsgKey(t.name, seq)); !has {
			_ = b.Delete(LeaseKey(t.name, seq), nil)
			continue
		}
		attempts := binary.BigEndian.Uint32(lease[8:12]) + 1
		var lbuf [12]byte
		binary.BigEndian.PutUint64(lbuf[0:8], uint64(nowMs))
		binary.BigEndian.PutUint32(lbuf[8:12], attempts)
		if err := b.Set(LeaseKey(t.name, seq), lbuf[:], nil); err != nil {
			return reclaimed, err
		}
		if err := b.Set(ReadyKey(t.name, seq), nil, nil); err != nil {
			return reclaimed, err
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := t.db.CommitBatch(ctx, b); err != nil {
		return reclaimed, err
	}
	return reclaimed, nil
}

// Stats reports the queue depth for dashboards.
type Stats struct {
	Tube   string `json:"tube"`
	Ready  int    `json:"ready"`
	Leased int    `json:"leased"`
	Buried int    `json:"buried"`
}

// CurrentStats counts ready, leased, and buried items.
func (t *Tube) CurrentStats() (Stats, error) {
	s := Stats{Tube: t.name}
	ready, err := t.countPrefix(ReadyPrefix(t.name))
	if err != nil {
		return s, err
	}
	buried, err := t.countPrefix(BuriedPrefix(t.name))
	if err != nil {
		return s, err
	}
	// Lease records persist attempt counts for waiting items, so count
	// only leases with a live message and no ready/delay index entry.
	leased := 0
	lo, hi := pebblestore.PrefixBounds(LeaseIdxPrefix(t.name))
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return s, err
	}
	defer iter.Close()
	seen := map[uint64]bool{}
	for ok := iter.First(); ok; ok = iter.Next() {
		seq, okSeq := seqFromKeyTail(iter.Key())
		if !okSeq || seen[seq] {
			continue
		}
		seen[seq] = true
		if has, _ := t.db.Has(LeaseKey(t.name, seq)); !has {
			continue
		}
		if has, _ := t.db.Has(MsgKey(t.name, seq)); !has {
			continue
		}
		if has, _ := t.db.Has(ReadyKey(t.name, seq)); has {
			continue
		}
		leased++
	}
	s.Ready, s.Leased, s.Buried = ready, leased, buried
	return s, nil
}

func (t *Tube) countPrefix(prefix []byte) (int, error) {
	lo, hi := pebblestore.PrefixBounds(prefix)
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}

// StartSweeper runs a background loop reclaiming expired leases until
// StopSweeper is called. Ticks are jittered to avoid thundering herds
// across tubes.
func (t *Tube) StartSweeper(interval time.Duration, maxPerTick int) {
	if t.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxPerTick <= 0 {
		maxPerTick = 256
	}
	t.sweepStop = make(chan struct{})
	stop := t.sweepStop
	go func() {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				_, _ = t.ReclaimExpired(context.Background(), time.Now().UnixMilli(), maxPerTick)
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (t *Tube) StopSweeper() {
	if t.sweepStop != nil {
		close(t.sweepStop)
		t.sweepStop = nil
	}
}
