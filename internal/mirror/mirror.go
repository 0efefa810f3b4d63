// Package mirror forwards compact submission-outcome events to an
// external AMQP sink. Publishing is fire-and-forget: errors surface to
// the caller only so the event bus can log them, and a Publisher built
// without a broker URL is a no-op.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rosterhq/roster/internal/events"
)

// DefaultExchange is the fanout exchange used when none is configured.
const DefaultExchange = "roster.mirror"

// Publisher forwards events to AMQP. The zero value and nil are no-ops.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Dial connects to the broker and declares the fanout exchange.
// An empty URL returns a nil Publisher, which is a valid no-op.
func Dial(url, exchange string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("mirror: connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mirror: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("mirror: declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish forwards one event. A nil Publisher silently succeeds.
func (p *Publisher) Publish(ctx context.Context, ev events.Event) error {
	if p == nil || p.ch == nil {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"id":        ev.SubmissionID,
		"type":      string(ev.Type),
		"operation": string(ev.Operation),
		"source":    string(ev.Source),
		"email":     ev.Email,
		"at_ms":     ev.AtMs,
	})
	if err != nil {
		return fmt.Errorf("mirror: marshal: %w", err)
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		"", // fanout ignores routing keys
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

// Close tears down the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
