package queue

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	pebblestore "github.com/rosterhq/roster/internal/storage/pebble"
)

func openTestTube(t *testing.T) *Tube {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tube, err := Open(db, "submissions")
	if err != nil {
		t.Fatalf("open tube: %v", err)
	}
	return tube
}

func TestPutAssignsIncreasingSeqs(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	s1, err := tube.Put(ctx, []byte("h"), []byte("a"), 0, 1000)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	s2, _ := tube.Put(ctx, nil, []byte("b"), 0, 1000)
	if s1 == 0 || s2 <= s1 {
		t.Fatalf("want increasing seqs, got %d then %d", s1, s2)
	}
}

func TestReserveIsFIFO(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	s1, _ := tube.Put(ctx, nil, []byte("a"), 0, 1000)
	s2, _ := tube.Put(ctx, nil, []byte("b"), 0, 1000)

	r1, err := tube.Reserve(ctx, 30_000, 1100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r1.Seq != s1 || !bytes.Equal(r1.Payload, []byte("a")) {
		t.Fatalf("want oldest first, got seq %d payload %q", r1.Seq, r1.Payload)
	}
	r2, err := tube.Reserve(ctx, 30_000, 1100)
	if err != nil {
		t.Fatalf("reserve 2: %v", err)
	}
	if r2.Seq != s2 {
		t.Fatalf("want seq %d, got %d", s2, r2.Seq)
	}
	if _, err := tube.Reserve(ctx, 30_000, 1100); !errors.Is(err, ErrEmpty) {
		t.Fatalf("want ErrEmpty, got %v", err)
	}
}

func TestDelayedPutPromotesWhenDue(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	seq, _ := tube.Put(ctx, nil, []byte("later"), 500*time.Millisecond, 1000)

	if _, err := tube.Reserve(ctx, 30_000, 1200); !errors.Is(err, ErrEmpty) {
		t.Fatalf("item visible before fire time: %v", err)
	}
	r, err := tube.Reserve(ctx, 30_000, 1600)
	if err != nil {
		t.Fatalf("reserve after due: %v", err)
	}
	if r.Seq != seq {
		t.Fatalf("want seq %d, got %d", seq, r.Seq)
	}
}

func TestDeleteAcknowledges(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	_, _ = tube.Put(ctx, nil, []byte("x"), 0, 1000)
	r, err := tube.Reserve(ctx, 30_000, 1100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tube.Delete(ctx, r.Seq); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tube.Reserve(ctx, 30_000, 999_999); !errors.Is(err, ErrEmpty) {
		t.Fatalf("deleted item came back: %v", err)
	}
}

func TestReleaseIncrementsAttempts(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	seq, _ := tube.Put(ctx, nil, []byte("x"), 0, 1000)

	r, err := tube.Reserve(ctx, 30_000, 1100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.Attempts != 0 {
		t.Fatalf("first delivery should carry 0 prior attempts, got %d", r.Attempts)
	}
	if err := tube.Release(ctx, seq, 0, 1200); err != nil {
		t.Fatalf("release: %v", err)
	}
	r, err = tube.Reserve(ctx, 30_000, 1300)
	if err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	if r.Attempts != 1 {
		t.Fatalf("want 1 attempt after release, got %d", r.Attempts)
	}
}

func TestReleaseWithDelayHidesItem(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	seq, _ := tube.Put(ctx, nil, []byte("x"), 0, 1000)
	if _, err := tube.Reserve(ctx, 30_000, 1100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tube.Release(ctx, seq, time.Second, 1200); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := tube.Reserve(ctx, 30_000, 1500); !errors.Is(err, ErrEmpty) {
		t.Fatalf("released item visible before backoff: %v", err)
	}
	if _, err := tube.Reserve(ctx, 30_000, 2500); err != nil {
		t.Fatalf("reserve after backoff: %v", err)
	}
}

func TestBuryAndKick(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	seq, _ := tube.Put(ctx, nil, []byte("poison"), 0, 1000)
	if _, err := tube.Reserve(ctx, 30_000, 1100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tube.Bury(ctx, seq); err != nil {
		t.Fatalf("bury: %v", err)
	}
	if _, err := tube.Reserve(ctx, 30_000, 999_999); !errors.Is(err, ErrEmpty) {
		t.Fatalf("buried item still delivered: %v", err)
	}
	st, err := tube.CurrentStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Buried != 1 {
		t.Fatalf("want 1 buried, got %+v", st)
	}

	if err := tube.Kick(ctx, seq); err != nil {
		t.Fatalf("kick: %v", err)
	}
	r, err := tube.Reserve(ctx, 30_000, 2000)
	if err != nil {
		t.Fatalf("reserve after kick: %v", err)
	}
	if r.Seq != seq || !bytes.Equal(r.Payload, []byte("poison")) {
		t.Fatalf("kick returned wrong item: %+v", r)
	}
}

func TestReclaimExpiredRedelivers(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	seq, _ := tube.Put(ctx, nil, []byte("x"), 0, 1000)
	r, err := tube.Reserve(ctx, 1000, 1100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.ExpiryMs != 2100 {
		t.Fatalf("want expiry 2100, got %d", r.ExpiryMs)
	}

	// Lease still live: nothing to reclaim.
	n, err := tube.ReclaimExpired(ctx, 1500, 0)
	if err != nil || n != 0 {
		t.Fatalf("reclaim before expiry: n=%d err=%v", n, err)
	}

	n, err = tube.ReclaimExpired(ctx, 3000, 0)
	if err != nil || n != 1 {
		t.Fatalf("reclaim after expiry: n=%d err=%v", n, err)
	}
	r, err = tube.Reserve(ctx, 1000, 3100)
	if err != nil {
		t.Fatalf("reserve reclaimed: %v", err)
	}
	if r.Seq != seq || r.Attempts != 1 {
		t.Fatalf("reclaim should bump attempts: %+v", r)
	}
}

func TestReclaimIgnoresAckedItems(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	_, _ = tube.Put(ctx, nil, []byte("x"), 0, 1000)
	r, err := tube.Reserve(ctx, 1000, 1100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tube.Delete(ctx, r.Seq); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Even past the old expiry, the acked item must not come back.
	n, err := tube.ReclaimExpired(ctx, 10_000, 0)
	if err != nil || n != 0 {
		t.Fatalf("reclaim resurrected acked item: n=%d err=%v", n, err)
	}
}

func TestTouchExtendsLease(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	seq, _ := tube.Put(ctx, nil, []byte("x"), 0, 1000)
	if _, err := tube.Reserve(ctx, 1000, 1100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tube.Touch(ctx, seq, 10_000, 1500); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// Old expiry passed but the touched lease holds.
	n, err := tube.ReclaimExpired(ctx, 3000, 0)
	if err != nil || n != 0 {
		t.Fatalf("touched lease reclaimed early: n=%d err=%v", n, err)
	}
	n, err = tube.ReclaimExpired(ctx, 12_000, 0)
	if err != nil || n != 1 {
		t.Fatalf("touched lease never expired: n=%d err=%v", n, err)
	}
}

func TestSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	ctx := context.Background()
	tube, err := Open(db, "submissions")
	if err != nil {
		t.Fatalf("open tube: %v", err)
	}
	s1, _ := tube.Put(ctx, nil, []byte("a"), 0, 1000)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	tube, err = Open(db, "submissions")
	if err != nil {
		t.Fatalf("reopen tube: %v", err)
	}
	s2, _ := tube.Put(ctx, nil, []byte("b"), 0, 2000)
	if s2 <= s1 {
		t.Fatalf("seq regressed across reopen: %d then %d", s1, s2)
	}
	// The pre-restart item is still there.
	r, err := tube.Reserve(ctx, 30_000, 2100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.Seq != s1 {
		t.Fatalf("want durable item %d first, got %d", s1, r.Seq)
	}
}

func TestItemFramingRejectsCorruption(t *testing.T) {
	body := EncodeItem([]byte("header"), []byte("payload"))
	dec, ok := DecodeItem(body)
	if !ok {
		t.Fatalf("decode failed")
	}
	if !bytes.Equal(dec.Header, []byte("header")) || !bytes.Equal(dec.Payload, []byte("payload")) {
		t.Fatalf("roundtrip mismatch: %+v", dec)
	}

	corrupt := append([]byte(nil), body...)
	corrupt[len(corrupt)/2] ^= 0xff
	if _, ok := DecodeItem(corrupt); ok {
		t.Fatalf("corrupt body decoded")
	}
	if _, ok := DecodeItem(body[:5]); ok {
		t.Fatalf("truncated body decoded")
	}

	// A corrupted headerLen near MaxUint32 must fail the bounds check,
	// not wrap around it and panic on the slice.
	oversize := []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}
	if _, ok := DecodeItem(oversize); ok {
		t.Fatalf("oversized headerLen decoded")
	}
}

func TestStatsCountsStates(t *testing.T) {
	tube := openTestTube(t)
	ctx := context.Background()
	_, _ = tube.Put(ctx, nil, []byte("ready"), 0, 1000)
	_, _ = tube.Put(ctx, nil, []byte("leased"), 0, 1000)
	s3, _ := tube.Put(ctx, nil, []byte("buried"), 0, 1000)

	if _, err := tube.Reserve(ctx, 30_000, 1100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := tube.Reserve(ctx, 30_000, 1100); err != nil {
		t.Fatalf("reserve 2: %v", err)
	}
	if _, err := tube.Reserve(ctx, 30_000, 1100); err != nil {
		t.Fatalf("reserve 3: %v", err)
	}
	if err := tube.Bury(ctx, s3); err != nil {
		t.Fatalf("bury: %v", err)
	}

	st, err := tube.CurrentStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Ready != 0 || st.Leased != 2 || st.Buried != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
