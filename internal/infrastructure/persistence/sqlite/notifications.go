package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zhatRelay/internal/domain"
)

const defaultNotificationLimit = 50

// NotificationLog is an append-only table of push notifications. Appending
// a notification already recorded for the channel is a no-op, so redelivered
// events are harmless.
type NotificationLog struct {
	db   *sql.DB
	read *sql.DB
}

var _ domain.NotificationLog = (*NotificationLog)(nil)

func (l *NotificationLog) AppendNotification(ctx context.Context, channelID string, n domain.Notification) error {
	if channelID == "" || n.ID == "" {
		return fmt.Errorf("sqlite: notification needs channel and id")
	}
	createdAt := n.CreatedAt.UTC()
	if n.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const stmt = `
INSERT INTO notifications (notification_id, channel_id, type, user_id, username, amount, message, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(channel_id, notification_id) DO NOTHING;
`

	_, err := l.db.ExecContext(
		ctx,
		stmt,
		n.ID,
		channelID,
		string(n.Type),
		n.UserID,
		n.Username,
		n.Amount,
		n.Message,
		encodeFields(n.Metadata),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append notification: %w", err)
	}
	return nil
}

// ListNotifications returns the newest notifications for a channel first.
func (l *NotificationLog) ListNotifications(ctx context.Context, channelID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	const query = `
SELECT notification_id, type, user_id, username, amount, message, metadata, created_at
FROM notifications
WHERE channel_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;
`

	rows, err := l.read.QueryContext(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			record            domain.Notification
			notificationType  string
			userID, username  sql.NullString
			message, metadata sql.NullString
			amount            sql.NullInt64
			createdAt         sql.NullTime
		)

		if err := rows.Scan(
			&record.ID,
			&notificationType,
			&userID,
			&username,
			&amount,
			&message,
			&metadata,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan notification: %w", err)
		}

		record.Type = domain.NotificationType(notificationType)
		record.UserID = userID.String
		record.Username = username.String
		record.Amount = amount.Int64
		record.Message = message.String
		record.Metadata = decodeFields(metadata.String)
		record.CreatedAt = createdAt.Time.UTC()

		out = append(out, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list notifications rows: %w", err)
	}

	return out, nil
}
