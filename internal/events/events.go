// Package events fans ledger notifications out to websocket clients and Kafka
// after a transaction has committed.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeBillCreated   = "bill.created"
	TypeReturnCreated = "return.created"
	TypeStockLow      = "stock.low"
	TypeStockChanged  = "stock.changed"
)

// Event is the envelope shared by every transport.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject"` // aggregate id, used as the Kafka key
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// New builds an event stamped with a fresh id and the current time.
func New(eventType, subject string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
