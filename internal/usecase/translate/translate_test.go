package translate

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhatRelay/internal/domain"
)

var received = time.Date(2018, 1, 1, 0, 5, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func stream2018() domain.StreamRecord2018 {
	return domain.StreamRecord2018{
		CommunityIDs: []string{"c2", "c1", "c2", ""},
		GameID:       "33214",
		ID:           ptr("abc"),
		Language:     "en",
		StartedAt:    ptr("2018-01-01T00:00:00Z"),
		ThumbnailURL: "https://static-cdn.jtvnw.net/previews-ttv/live_user_u1-{width}x{height}.jpg",
		Title:        "t",
		Type:         ptr("live"),
		UserID:       ptr("u1"),
		ViewerCount:  ptr(int64(42)),
	}
}

func raw2018(rec domain.StreamRecord2018) domain.RawResponse {
	return domain.RawResponse{
		Version:    domain.VersionStreamsHelix2018,
		Family:     domain.KindStreamingStatus,
		ChannelID:  "u1",
		ReceivedAt: received,
		Body:       rec,
	}
}

func TestStreamsHelix2018_TranslatesLiveStream(t *testing.T) {
	event, err := NewRegistry().Translate(raw2018(stream2018()))
	require.NoError(t, err)

	assert.Equal(t, domain.KindStreamingStatus, event.Kind())
	assert.Equal(t, "u1", event.ChannelID())
	assert.Equal(t, received, event.OccurredAt())

	status, ok := event.Payload().(domain.StreamStatus)
	require.True(t, ok)
	assert.Equal(t, int64(42), status.ViewerCount)
	assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), status.StartedAt)
	assert.Equal(t, []string{"c1", "c2"}, status.CommunityIDs)
	assert.Equal(t, "live", status.Type)
	assert.True(t, status.IsLive())
}

func TestStreamsHelix2018_IsDeterministic(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.Translate(raw2018(stream2018()))
	require.NoError(t, err)
	b, err := reg.Translate(raw2018(stream2018()))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStreamsHelix2018_RejectsInvalidPayloads(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.StreamRecord2018)
		field  string
	}{
		{"missing viewer count", func(r *domain.StreamRecord2018) { r.ViewerCount = nil }, "viewer_count"},
		{"negative viewer count", func(r *domain.StreamRecord2018) { r.ViewerCount = ptr(int64(-1)) }, "viewer_count"},
		{"missing started_at", func(r *domain.StreamRecord2018) { r.StartedAt = nil }, "started_at"},
		{"unparseable started_at", func(r *domain.StreamRecord2018) { r.StartedAt = ptr("yesterday") }, "started_at"},
		{"missing id", func(r *domain.StreamRecord2018) { r.ID = nil }, "id"},
		{"blank user id", func(r *domain.StreamRecord2018) { r.UserID = ptr(" ") }, "user_id"},
		{"missing type", func(r *domain.StreamRecord2018) { r.Type = nil }, "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := stream2018()
			tc.mutate(&rec)

			event, err := StreamsHelix2018(raw2018(rec))
			assert.Nil(t, event)
			var terr *domain.TranslationError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tc.field, terr.Field)
			assert.Equal(t, domain.VersionStreamsHelix2018, terr.Version)
		})
	}
}

func TestStreamsHelix_EmptyCommunities(t *testing.T) {
	event, err := StreamsHelix(domain.RawResponse{
		Version:    domain.VersionStreamsHelix,
		ReceivedAt: received,
		Body: domain.StreamRecordHelix{
			ID:          ptr("s1"),
			UserID:      ptr("u9"),
			UserLogin:   "someone",
			Type:        ptr("live"),
			ViewerCount: ptr(int64(0)),
			StartedAt:   ptr("2021-03-04T05:06:07Z"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "u9", event.ChannelID(), "falls back to user id")
	status := event.Payload().(domain.StreamStatus)
	assert.Empty(t, status.CommunityIDs)
	assert.NotNil(t, status.CommunityIDs)
	assert.Zero(t, status.ViewerCount)
}

func TestStreamsOffline(t *testing.T) {
	event, err := StreamsOffline(domain.RawResponse{
		Version:    domain.VersionStreamsOffline,
		ChannelID:  "u1",
		ReceivedAt: received,
		Body:       domain.StreamOffline{},
	})
	require.NoError(t, err)
	status := event.Payload().(domain.StreamStatus)
	assert.Equal(t, domain.StreamTypeOffline, status.Type)
	assert.Equal(t, "u1", status.UserID)
	assert.False(t, status.IsLive())

	_, err = StreamsOffline(domain.RawResponse{Version: domain.VersionStreamsOffline, Body: domain.StreamOffline{}})
	var terr *domain.TranslationError
	assert.ErrorAs(t, err, &terr)
}

func TestRegistry_UnknownVersion(t *testing.T) {
	_, err := NewRegistry().Translate(domain.RawResponse{Version: "streams/kraken"})
	assert.True(t, errors.Is(err, domain.ErrUnknownVersion))
}

func TestRegistry_WrongBodyType(t *testing.T) {
	_, err := NewRegistry().Translate(domain.RawResponse{
		Version: domain.VersionStreamsHelix2018,
		Body:    domain.StreamRecordHelix{},
	})
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "body", terr.Field)
}

func TestRegistry_VersionsSorted(t *testing.T) {
	versions := NewRegistry().Versions()
	assert.Len(t, versions, 6)
	assert.Equal(t, domain.VersionCheermotesHelix, versions[0])
}

func TestStreamsHelix2018_SecondIdenticalPollIsNotAChange(t *testing.T) {
	rec := domain.StreamRecord2018{
		CommunityIDs: []string{},
		GameID:       "123",
		ID:           ptr("abc"),
		Language:     "en",
		StartedAt:    ptr("2018-01-01T00:00:00Z"),
		ThumbnailURL: "http://x",
		Title:        "Test",
		Type:         ptr("live"),
		UserID:       ptr("u1"),
		ViewerCount:  ptr(int64(42)),
	}
	reg := NewRegistry()

	event, err := reg.Translate(raw2018(rec))
	require.NoError(t, err)
	assert.Equal(t, domain.KindStreamingStatus, event.Kind())
	assert.Equal(t, int64(42), event.Payload().(domain.StreamStatus).ViewerCount)

	second := rec
	assert.False(t, reg.StreamStatusChanged(raw2018(rec), raw2018(second)))
}

func TestStreamsHelix2018_DecodesJSONBody(t *testing.T) {
	raw := raw2018(domain.StreamRecord2018{})
	raw.Body = json.RawMessage(`{"community_ids":["c2","c1"],"game_id":"33214","id":"abc","language":"en",
		"started_at":"2018-01-01T00:00:00Z","thumbnail_url":"https://static-cdn.jtvnw.net/previews-ttv/live_user_u1-{width}x{height}.jpg",
		"title":"t","type":"live","user_id":"u1","viewer_count":42}`)

	fromJSON, err := StreamsHelix2018(raw)
	require.NoError(t, err)
	typed, err := StreamsHelix2018(raw2018(stream2018()))
	require.NoError(t, err)
	assert.Equal(t, typed, fromJSON)
}

func TestStreamsHelix2018_WrongFieldTypeIsTranslationError(t *testing.T) {
	raw := raw2018(domain.StreamRecord2018{})
	raw.Body = json.RawMessage(`{"id":"abc","user_id":"u1","type":"live","started_at":"2018-01-01T00:00:00Z","viewer_count":"lots"}`)

	event, err := NewRegistry().Translate(raw)
	assert.Nil(t, event)
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.VersionStreamsHelix2018, terr.Version)
	assert.Equal(t, "viewer_count", terr.Field)
	assert.Contains(t, terr.Reason, "string")
}

func TestStreamsHelix_InvalidJSONIsTranslationError(t *testing.T) {
	_, err := StreamsHelix(domain.RawResponse{
		Version: domain.VersionStreamsHelix,
		Body:    json.RawMessage(`{"id":`),
	})
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "body", terr.Field)
}
