package domain

import "time"

// Kind identifies an event family. It selects the payload shape of an Event
// and is the routing key on the bus.
type Kind string

const (
	KindCheermotes      Kind = "cheermotes"
	KindStreamingStatus Kind = "streaming-status"
	KindNotification    Kind = "notification"

	// KindAll subscribes to every kind. It is never carried by an event.
	KindAll Kind = "*"
)

// Event is the canonical internal representation of something that happened
// on the platform. Events are never mutated after construction.
type Event interface {
	Kind() Kind
	ChannelID() string
	OccurredAt() time.Time
	Payload() any
}

// ChannelEvent carries the fields shared by every event variant. The kind is
// unexported so it cannot change after construction.
type ChannelEvent struct {
	kind       Kind
	channelID  string
	occurredAt time.Time
}

func NewChannelEvent(kind Kind, channelID string, occurredAt time.Time) ChannelEvent {
	return ChannelEvent{
		kind:       kind,
		channelID:  channelID,
		occurredAt: occurredAt.UTC(),
	}
}

func (e ChannelEvent) Kind() Kind            { return e.kind }
func (e ChannelEvent) ChannelID() string     { return e.channelID }
func (e ChannelEvent) OccurredAt() time.Time { return e.occurredAt }

// CheermotesEvent carries a channel's normalized cheermote catalog.
type CheermotesEvent struct {
	ChannelEvent
	Catalog CheermoteCatalog
}

func NewCheermotesEvent(channelID string, occurredAt time.Time, catalog CheermoteCatalog) CheermotesEvent {
	return CheermotesEvent{
		ChannelEvent: NewChannelEvent(KindCheermotes, channelID, occurredAt),
		Catalog:      catalog,
	}
}

func (e CheermotesEvent) Payload() any { return e.Catalog }

// StreamingStatusEvent carries the live state of a channel's stream.
type StreamingStatusEvent struct {
	ChannelEvent
	Status StreamStatus
}

func NewStreamingStatusEvent(channelID string, occurredAt time.Time, status StreamStatus) StreamingStatusEvent {
	return StreamingStatusEvent{
		ChannelEvent: NewChannelEvent(KindStreamingStatus, channelID, occurredAt),
		Status:       status,
	}
}

func (e StreamingStatusEvent) Payload() any { return e.Status }

// NotificationEvent carries a push notification such as a subscription or a raid.
type NotificationEvent struct {
	ChannelEvent
	Notification Notification
}

func NewNotificationEvent(channelID string, occurredAt time.Time, n Notification) NotificationEvent {
	return NotificationEvent{
		ChannelEvent: NewChannelEvent(KindNotification, channelID, occurredAt),
		Notification: n,
	}
}

func (e NotificationEvent) Payload() any { return e.Notification }

var (
	_ Event = CheermotesEvent{}
	_ Event = StreamingStatusEvent{}
	_ Event = NotificationEvent{}
)
