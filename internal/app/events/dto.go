package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zhatRelay/internal/domain"
)

// Envelope is the wire form of an event on cross-process transports and
// websocket clients.
type Envelope struct {
	ID         string          `json:"id"`
	Origin     string          `json:"origin,omitempty"`
	Kind       domain.Kind     `json:"kind"`
	ChannelID  string          `json:"channelId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope serializes event. origin is the publishing bus; empty for
// consumers that never feed envelopes back into a bus.
func NewEnvelope(event domain.Event, origin string) (Envelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s payload: %w", event.Kind(), err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Origin:     origin,
		Kind:       event.Kind(),
		ChannelID:  event.ChannelID(),
		OccurredAt: event.OccurredAt().UTC(),
		Payload:    payload,
	}, nil
}

// Event decodes the payload into the variant selected by Kind.
func (e Envelope) Event() (domain.Event, error) {
	switch e.Kind {
	case domain.KindCheermotes:
		var catalog domain.CheermoteCatalog
		if err := json.Unmarshal(e.Payload, &catalog); err != nil {
			return nil, fmt.Errorf("events: decode %s payload: %w", e.Kind, err)
		}
		return domain.NewCheermotesEvent(e.ChannelID, e.OccurredAt, catalog), nil
	case domain.KindStreamingStatus:
		var status domain.StreamStatus
		if err := json.Unmarshal(e.Payload, &status); err != nil {
			return nil, fmt.Errorf("events: decode %s payload: %w", e.Kind, err)
		}
		return domain.NewStreamingStatusEvent(e.ChannelID, e.OccurredAt, status), nil
	case domain.KindNotification:
		var n domain.Notification
		if err := json.Unmarshal(e.Payload, &n); err != nil {
			return nil, fmt.Errorf("events: decode %s payload: %w", e.Kind, err)
		}
		return domain.NewNotificationEvent(e.ChannelID, e.OccurredAt, n), nil
	default:
		return nil, fmt.Errorf("events: unknown kind %q", e.Kind)
	}
}
