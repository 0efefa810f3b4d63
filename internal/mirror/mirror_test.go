package mirror

import (
	"context"
	"testing"

	"github.com/rosterhq/roster/internal/events"
)

func TestDialWithoutURLIsNoOp(t *testing.T) {
	p, err := Dial("", "unused")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if p != nil {
		t.Fatal("empty url must yield a nil publisher")
	}
	if err := p.Publish(context.Background(), events.Event{SubmissionID: "s1"}); err != nil {
		t.Fatalf("nil publish: %v", err)
	}
	p.Close()
}

func TestZeroPublisherIsNoOp(t *testing.T) {
	var p Publisher
	if err := p.Publish(context.Background(), events.Event{}); err != nil {
		t.Fatalf("zero publish: %v", err)
	}
	p.Close()
}
