package domain

import "time"

const (
	StreamTypeLive    = "live"
	StreamTypeOffline = "offline"
)

// StreamStatus is the payload of a StreamingStatusEvent. CommunityIDs is a set,
// kept sorted and free of duplicates.
type StreamStatus struct {
	CommunityIDs []string  `json:"communityIds"`
	GameID       string    `json:"gameId"`
	ID           string    `json:"id"`
	Language     string    `json:"language"`
	StartedAt    time.Time `json:"startedAt"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	UserID       string    `json:"userId"`
	ViewerCount  int64     `json:"viewerCount"`
}

func (s StreamStatus) IsLive() bool {
	return s.Type == StreamTypeLive
}
