package domain

import "time"

// RawVersion tags the wire shape of a RawResponse body. Translators are
// selected by it.
type RawVersion string

const (
	VersionStreamsHelix     RawVersion = "streams/helix"
	VersionStreamsHelix2018 RawVersion = "streams/helix-2018"
	VersionStreamsOffline   RawVersion = "streams/offline"
	VersionCheermotesHelix  RawVersion = "cheermotes/helix"
	VersionCheermotesV5     RawVersion = "cheermotes/v5"
	VersionNoticeIRC        RawVersion = "notice/irc"
)

// RawResponse is an unprocessed external payload. It is read-only once
// received; Body holds one of the wire models below, matching Version.
type RawResponse struct {
	Version    RawVersion
	Family     Kind
	ChannelID  string
	ReceivedAt time.Time
	Body       any
}

// StreamRecord2018 is a streams item as served with community ids.
type StreamRecord2018 struct {
	CommunityIDs []string `json:"community_ids"`
	GameID       string   `json:"game_id"`
	ID           *string  `json:"id"`
	Language     string   `json:"language"`
	StartedAt    *string  `json:"started_at"`
	ThumbnailURL string   `json:"thumbnail_url"`
	Title        string   `json:"title"`
	Type         *string  `json:"type"`
	UserID       *string  `json:"user_id"`
	ViewerCount  *int64   `json:"viewer_count"`
}

// StreamRecordHelix is a current Helix "Get Streams" item.
type StreamRecordHelix struct {
	ID           *string  `json:"id"`
	UserID       *string  `json:"user_id"`
	UserLogin    string   `json:"user_login"`
	UserName     string   `json:"user_name"`
	GameID       string   `json:"game_id"`
	GameName     string   `json:"game_name"`
	Type         *string  `json:"type"`
	Title        string   `json:"title"`
	Tags         []string `json:"tags"`
	ViewerCount  *int64   `json:"viewer_count"`
	StartedAt    *string  `json:"started_at"`
	Language     string   `json:"language"`
	ThumbnailURL string   `json:"thumbnail_url"`
	IsMature     bool     `json:"is_mature"`
}

// StreamOffline is produced when a streams query returns no live stream.
type StreamOffline struct {
	UserID string `json:"user_id"`
}

// CheermoteImages maps theme -> format -> scale -> URL.
type CheermoteImages map[string]map[string]map[string]string

// CheermotesV5 is the legacy catalog keyed by cheermote name.
type CheermotesV5 map[string]CheermoteV5

type CheermoteV5 struct {
	Tiers []CheermoteTierV5 `json:"tiers"`
}

type CheermoteTierV5 struct {
	ID      string          `json:"id"`
	MinBits *int64          `json:"min_bits"`
	Color   string          `json:"color"`
	Images  CheermoteImages `json:"images"`
}

// CheermotesHelix is the Helix "Get Cheermotes" data array.
type CheermotesHelix []CheermoteHelix

type CheermoteHelix struct {
	Prefix       string               `json:"prefix"`
	Tiers        []CheermoteTierHelix `json:"tiers"`
	Type         string               `json:"type"`
	Order        int64                `json:"order"`
	IsCharitable bool                 `json:"is_charitable"`
}

type CheermoteTierHelix struct {
	ID             string          `json:"id"`
	MinBits        *int64          `json:"min_bits"`
	Color          string          `json:"color"`
	Images         CheermoteImages `json:"images"`
	CanCheer       bool            `json:"can_cheer"`
	ShowInBitsCard bool            `json:"show_in_bits_card"`
}

// RawNotice is a USERNOTICE push message reduced to its IRC tags.
type RawNotice struct {
	Message string            `json:"message"`
	Tags    map[string]string `json:"tags"`
}
