package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Consumer reserves from a set of tubes with a blocking timeout,
// round-robining so no tube starves another. Safe for concurrent use
// by multiple workers.
type Consumer struct {
	tubes   []*Tube
	next    atomic.Uint64
	LeaseMs int64
	// Poll is the sleep between empty passes. Defaults to 50ms.
	Poll time.Duration
}

// NewConsumer creates a Consumer over the given tubes.
func NewConsumer(tubes []*Tube, leaseMs int64) *Consumer {
	return &Consumer{tubes: tubes, LeaseMs: leaseMs, Poll: 50 * time.Millisecond}
}

// Reserve blocks up to timeout waiting for an item from any tube.
// Returns ErrEmpty on timeout and ctx.Err() on cancellation.
func (c *Consumer) Reserve(ctx context.Context, timeout time.Duration) (*Reserved, error) {
	deadline := time.Now().Add(timeout)
	poll := c.Poll
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		for range c.tubes {
			t := c.tubes[int(c.next.Add(1)-1)%len(c.tubes)]
			r, err := t.Reserve(ctx, c.LeaseMs, 0)
			if err == nil {
				return r, nil
			}
			if !errors.Is(err, ErrEmpty) {
				return nil, err
			}
		}
		if timeout >= 0 && !time.Now().Add(poll).Before(deadline) {
			return nil, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// TubeFor returns the consumer's tube with the given name, or nil.
func (c *Consumer) TubeFor(name string) *Tube {
	for _, t := range c.tubes {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
