package twitchinfra

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/usecase/translate"
)

var now = time.Date(2018, 1, 1, 0, 5, 0, 0, time.UTC)

func newLegacy(t *testing.T, handler http.HandlerFunc) *LegacyFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewLegacyFetcher(LegacyConfig{
		ClientID:      "cid",
		AccessToken:   "tok",
		StreamsURL:    srv.URL + "/helix/streams",
		CheermotesURL: srv.URL + "/kraken/bits/actions",
		Timeout:       time.Second,
		Clock:         clockwork.NewFakeClockAt(now),
	})
}

func TestLegacyFetcher_Streams(t *testing.T) {
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/helix/streams", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "cid", r.Header.Get("Client-ID"))
		_, _ = w.Write([]byte(`{"data":[{"community_ids":[],"game_id":"123","id":"abc","language":"en",
			"started_at":"2018-01-01T00:00:00Z","thumbnail_url":"http://x","title":"Test","type":"live",
			"user_id":"u1","viewer_count":42}]}`))
	})

	raw, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStreamsHelix2018, raw.Version)
	assert.Equal(t, domain.KindStreamingStatus, raw.Family)
	assert.Equal(t, now, raw.ReceivedAt)

	event, err := translate.NewRegistry().Translate(raw)
	require.NoError(t, err)
	status := event.Payload().(domain.StreamStatus)
	require.NotNil(t, status.ViewerCount)
	assert.Equal(t, int64(42), status.ViewerCount)
	assert.Equal(t, "abc", status.ID)
}

func TestLegacyFetcher_WrongFieldTypeReachesTranslator(t *testing.T) {
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"abc","user_id":"u1","type":"live",
			"started_at":"2018-01-01T00:00:00Z","viewer_count":"lots"}]}`))
	})

	raw, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err, "a bad field is not a poll failure")

	_, err = translate.NewRegistry().Translate(raw)
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "viewer_count", terr.Field)
	assert.Equal(t, domain.VersionStreamsHelix2018, terr.Version)
}

func TestLegacyFetcher_OfflineChannel(t *testing.T) {
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	raw, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStreamsOffline, raw.Version)
	assert.Equal(t, domain.StreamOffline{UserID: "u1"}, raw.Body)
}

func TestLegacyFetcher_Cheermotes(t *testing.T) {
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("channel_id"))
		_, _ = w.Write([]byte(`{"Cheer":{"tiers":[{"id":"1","min_bits":1,"color":"#979797",
			"images":{"dark":{"animated":{"1":"http://c/1.gif"}}}}]}}`))
	})

	raw, err := f.FetchCheermotes(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionCheermotesV5, raw.Version)

	var body domain.CheermotesV5
	require.NoError(t, json.Unmarshal(raw.Body.(json.RawMessage), &body))
	require.Contains(t, body, "Cheer")
	assert.Equal(t, int64(1), *body["Cheer"].Tiers[0].MinBits)
	assert.Equal(t, "http://c/1.gif", body["Cheer"].Tiers[0].Images["dark"]["animated"]["1"])
}

func TestLegacyFetcher_CheermotesWrongTypeReachesTranslator(t *testing.T) {
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Cheer":{"tiers":[{"id":"1","min_bits":"one"}]}}`))
	})

	raw, err := f.FetchCheermotes(context.Background(), "u1")
	require.NoError(t, err)

	_, err = translate.NewRegistry().Translate(raw)
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Field, "min_bits")
}

func TestLegacyFetcher_MalformedEnvelopeIsTransient(t *testing.T) {
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":`))
	})

	_, err := f.FetchStreams(context.Background(), "u1")
	var transient *domain.TransientPollError
	require.ErrorAs(t, err, &transient)
	assert.Contains(t, err.Error(), "/helix/streams")
}

func TestLegacyFetcher_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		fatal  bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusRequestTimeout, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})
			_, err := f.FetchStreams(context.Background(), "u1")
			require.Error(t, err)
			assert.Equal(t, tc.fatal, domain.IsFatalPoll(err))
			if !tc.fatal {
				var transient *domain.TransientPollError
				require.ErrorAs(t, err, &transient)
				assert.Equal(t, tc.status, transient.StatusCode)
			}
		})
	}
}

func TestLegacyFetcher_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	f := NewLegacyFetcher(LegacyConfig{StreamsURL: endpoint, Timeout: time.Second})
	_, err := f.FetchStreams(context.Background(), "u1")
	var transient *domain.TransientPollError
	require.ErrorAs(t, err, &transient)
	assert.Contains(t, err.Error(), strings.TrimPrefix(endpoint, "http://"), "host-only URLs still name the endpoint")
}

func TestLegacyFetcher_CancelPassesThrough(t *testing.T) {
	release := make(chan struct{})
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := f.FetchStreams(ctx, "u1")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, domain.IsFatalPoll(err))
}

func TestLegacyFetcher_UpdateAccessToken(t *testing.T) {
	seen := make(chan string, 1)
	f := newLegacy(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	f.UpdateAccessToken("  ")
	f.UpdateAccessToken("fresh")

	_, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh", <-seen)
}
