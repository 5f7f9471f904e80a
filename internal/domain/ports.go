package domain

import "context"

// EventPublisher accepts events without blocking on downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// Translator maps one raw wire shape into an event.
type Translator func(raw RawResponse) (Event, error)
