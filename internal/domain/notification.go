package domain

import (
	"context"
	"time"
)

type NotificationType string

const (
	NotificationSubscription NotificationType = "subscription"
	NotificationResub        NotificationType = "resub"
	NotificationGiftSub      NotificationType = "gift_subscription"
	NotificationRaid         NotificationType = "raid"
	NotificationBits         NotificationType = "bits"
	NotificationGeneric      NotificationType = "generic"
)

type Notification struct {
	ID        string            `json:"id"`
	Type      NotificationType  `json:"type"`
	UserID    string            `json:"userId"`
	Username  string            `json:"username"`
	Amount    int64             `json:"amount"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NotificationLog is an append-only record of push notifications.
type NotificationLog interface {
	AppendNotification(ctx context.Context, channelID string, n Notification) error
	ListNotifications(ctx context.Context, channelID string, limit int) ([]Notification, error)
}
