// Package events fans submission outcomes out to the statistics
// aggregator, the notification generator, and the mirror publisher.
// Subscribers form an explicit, ordered list invoked synchronously by
// the worker; a subscriber error is logged by the bus and swallowed, so
// fan-out can never change a submission's outcome or cause redelivery.
package events

import (
	"context"

	"github.com/rosterhq/roster/internal/submission"
	"github.com/rosterhq/roster/pkg/log"
)

// Type classifies a domain event.
type Type string

const (
	// TypeCompleted: a submission reached completed.
	TypeCompleted Type = "submission.completed"
	// TypeFailed: a submission reached failed for a non-duplicate reason.
	TypeFailed Type = "submission.failed"
	// TypeDuplicate: a create was rejected as a duplicate. Distinct from
	// TypeFailed so statistics can rank duplicated emails.
	TypeDuplicate Type = "submission.duplicate"
)

// Event is one submission outcome published to all sinks.
type Event struct {
	Type         Type                 `json:"type"`
	SubmissionID string               `json:"submission_id"`
	Operation    submission.Operation `json:"operation"`
	Source       submission.Source    `json:"source"`
	Email        string               `json:"email,omitempty"`
	// DuplicateOf is set for TypeDuplicate.
	DuplicateOf string `json:"duplicate_of,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AtMs        int64  `json:"at_ms"`
}

// Subscriber consumes one event. Errors are reported to the bus logger
// and otherwise ignored.
type Subscriber struct {
	Name   string
	Handle func(ctx context.Context, ev Event) error
}

// Bus invokes subscribers in registration order.
type Bus struct {
	subscribers []Subscriber
	logger      log.Logger
}

// NewBus creates a Bus.
func NewBus(logger log.Logger) *Bus {
	return &Bus{logger: logger.With(log.Component("events"))}
}

// Subscribe appends a subscriber. Registration order is invocation order.
func (b *Bus) Subscribe(sub Subscriber) {
	b.subscribers = append(b.subscribers, sub)
}

// Publish delivers the event to every subscriber synchronously.
// Failures are logged and swallowed.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	for _, sub := range b.subscribers {
		if err := sub.Handle(ctx, ev); err != nil {
			b.logger.Warn("event subscriber failed",
				log.Str("subscriber", sub.Name),
				log.Str("event", string(ev.Type)),
				log.Str("submission", ev.SubmissionID),
				log.Err(err),
			)
		}
	}
}
