package id

import (
	"bytes"
	"testing"
	"time"
)

func TestOrderingMonotonic(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 1000 }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next()
	b := g.Next()
	if bytes.Compare(a.Bytes(), b.Bytes()) >= 0 {
		t.Fatalf("expected a<b, got %s >= %s", a, b)
	}
	if a.String() >= b.String() {
		t.Fatalf("hex form must preserve order")
	}
}

func TestClockRegressionGuard(t *testing.T) {
	g := NewGenerator()
	seq := int64(1000)
	NowMs = func() int64 { return seq }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next() // uses 1000
	seq = 900     // clock went backwards
	b := g.Next() // must still order after a
	if bytes.Compare(a.Bytes(), b.Bytes()) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
	if b.TimeMs() != 1000 {
		t.Fatalf("regressed clock must keep lastMs, got %d", b.TimeMs())
	}
}

func TestParseRoundtrip(t *testing.T) {
	g := NewGenerator()
	a := g.Next()
	got, err := Parse(a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != a {
		t.Fatalf("roundtrip mismatch: %s != %s", got, a)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse("abc"); err == nil {
		t.Fatal("want length error")
	}
	if _, err := Parse("zz0102030405060708090a0b0c0d0e0f"); err == nil {
		t.Fatal("want hex error")
	}
}

func TestIsZero(t *testing.T) {
	var zero ID
	if !zero.IsZero() {
		t.Fatal("zero value must report zero")
	}
	if NewGenerator().Next().IsZero() {
		t.Fatal("generated id must not be zero")
	}
}
