package translate

import (
	"strings"
	"time"

	"zhatRelay/internal/domain"
)

type streamFields struct {
	id, userID, streamType, startedAt *string
	viewerCount                       *int64
}

func validateStream(version domain.RawVersion, f streamFields) (time.Time, error) {
	switch {
	case f.id == nil || strings.TrimSpace(*f.id) == "":
		return time.Time{}, missing(version, "id")
	case f.userID == nil || strings.TrimSpace(*f.userID) == "":
		return time.Time{}, missing(version, "user_id")
	case f.streamType == nil || strings.TrimSpace(*f.streamType) == "":
		return time.Time{}, missing(version, "type")
	case f.viewerCount == nil:
		return time.Time{}, missing(version, "viewer_count")
	case *f.viewerCount < 0:
		return time.Time{}, malformed(version, "viewer_count", "must be non-negative, got %d", *f.viewerCount)
	case f.startedAt == nil || strings.TrimSpace(*f.startedAt) == "":
		return time.Time{}, missing(version, "started_at")
	}

	startedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*f.startedAt))
	if err != nil {
		return time.Time{}, malformed(version, "started_at", "not an RFC 3339 timestamp: %q", *f.startedAt)
	}
	return startedAt.UTC(), nil
}

// StreamsHelix2018 translates a streams item carrying community ids.
func StreamsHelix2018(raw domain.RawResponse) (domain.Event, error) {
	rec, err := decodeBody[domain.StreamRecord2018](raw)
	if err != nil {
		return nil, err
	}
	startedAt, err := validateStream(raw.Version, streamFields{
		id:          rec.ID,
		userID:      rec.UserID,
		streamType:  rec.Type,
		startedAt:   rec.StartedAt,
		viewerCount: rec.ViewerCount,
	})
	if err != nil {
		return nil, err
	}

	status := domain.StreamStatus{
		CommunityIDs: stringSet(rec.CommunityIDs),
		GameID:       rec.GameID,
		ID:           *rec.ID,
		Language:     rec.Language,
		StartedAt:    startedAt,
		ThumbnailURL: rec.ThumbnailURL,
		Title:        rec.Title,
		Type:         *rec.Type,
		UserID:       *rec.UserID,
		ViewerCount:  *rec.ViewerCount,
	}
	return domain.NewStreamingStatusEvent(firstNonEmpty(raw.ChannelID, status.UserID), raw.ReceivedAt, status), nil
}

// StreamsHelix translates a current Helix streams item. The current shape
// has no communities, so the set is empty.
func StreamsHelix(raw domain.RawResponse) (domain.Event, error) {
	rec, err := decodeBody[domain.StreamRecordHelix](raw)
	if err != nil {
		return nil, err
	}
	startedAt, err := validateStream(raw.Version, streamFields{
		id:          rec.ID,
		userID:      rec.UserID,
		streamType:  rec.Type,
		startedAt:   rec.StartedAt,
		viewerCount: rec.ViewerCount,
	})
	if err != nil {
		return nil, err
	}

	status := domain.StreamStatus{
		CommunityIDs: stringSet(nil),
		GameID:       rec.GameID,
		ID:           *rec.ID,
		Language:     rec.Language,
		StartedAt:    startedAt,
		ThumbnailURL: rec.ThumbnailURL,
		Title:        rec.Title,
		Type:         *rec.Type,
		UserID:       *rec.UserID,
		ViewerCount:  *rec.ViewerCount,
	}
	return domain.NewStreamingStatusEvent(firstNonEmpty(raw.ChannelID, status.UserID), raw.ReceivedAt, status), nil
}

// StreamsOffline translates the absence of a live stream.
func StreamsOffline(raw domain.RawResponse) (domain.Event, error) {
	rec, err := decodeBody[domain.StreamOffline](raw)
	if err != nil {
		return nil, err
	}
	userID := firstNonEmpty(rec.UserID, raw.ChannelID)
	if userID == "" {
		return nil, missing(raw.Version, "user_id")
	}

	status := domain.StreamStatus{
		CommunityIDs: stringSet(nil),
		Type:         domain.StreamTypeOffline,
		UserID:       userID,
	}
	return domain.NewStreamingStatusEvent(firstNonEmpty(raw.ChannelID, userID), raw.ReceivedAt, status), nil
}
