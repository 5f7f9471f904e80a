package twitchinfra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/usecase/translate"
)

func newHelix(t *testing.T, handler http.HandlerFunc) *HelixFetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	f, err := NewHelixFetcher("cid", "tok", time.Second, clockwork.NewFakeClockAt(now))
	require.NoError(t, err)
	f.baseURL = srv.URL
	return f
}

func TestNewHelixFetcher_RequiresClientID(t *testing.T) {
	_, err := NewHelixFetcher(" ", "tok", time.Second, nil)
	assert.Error(t, err)
}

func TestHelixFetcher_Streams(t *testing.T) {
	f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/streams", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "cid", r.Header.Get("Client-Id"))
		_, _ = w.Write([]byte(`{"data":[{"id":"abc","user_id":"u1","user_login":"one","game_id":"123",
			"type":"live","title":"Test","viewer_count":42,"started_at":"2018-01-01T00:00:00Z",
			"language":"en","thumbnail_url":"http://x","tags":["English"]}]}`))
	})

	raw, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStreamsHelix, raw.Version)
	assert.Equal(t, now, raw.ReceivedAt)

	event, err := translate.NewRegistry().Translate(raw)
	require.NoError(t, err)
	status := event.Payload().(domain.StreamStatus)
	assert.Equal(t, int64(42), status.ViewerCount)
	assert.Equal(t, "abc", status.ID)
}

func TestHelixFetcher_OfflineChannel(t *testing.T) {
	f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[],"pagination":{}}`))
	})

	raw, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionStreamsOffline, raw.Version)
	assert.Equal(t, domain.StreamOffline{UserID: "u1"}, raw.Body)
}

func TestHelixFetcher_WrongFieldTypeReachesTranslator(t *testing.T) {
	f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"abc","user_id":"u1","type":"live",
			"started_at":"2018-01-01T00:00:00Z","viewer_count":"lots"}]}`))
	})

	raw, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err, "a bad field is not a poll failure")

	_, err = translate.NewRegistry().Translate(raw)
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "viewer_count", terr.Field)
	assert.Equal(t, domain.VersionStreamsHelix, terr.Version)
}

func TestHelixFetcher_CheermotesWrongTypeReachesTranslator(t *testing.T) {
	f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bits/cheermotes", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("broadcaster_id"))
		_, _ = w.Write([]byte(`{"data":[{"prefix":"Cheer","tiers":[{"id":"1","min_bits":"one"}]}]}`))
	})

	raw, err := f.FetchCheermotes(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.VersionCheermotesHelix, raw.Version)

	_, err = translate.NewRegistry().Translate(raw)
	var terr *domain.TranslationError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Field, "min_bits")
}

func TestHelixFetcher_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		fatal  bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope","status":0,"message":"nope"}`))
			})
			_, err := f.FetchCheermotes(context.Background(), "u1")
			require.Error(t, err)
			assert.Equal(t, tc.fatal, domain.IsFatalPoll(err))
		})
	}
}

func TestHelixFetcher_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	f, err := NewHelixFetcher("cid", "tok", time.Second, nil)
	require.NoError(t, err)
	f.baseURL = srv.URL
	srv.Close()

	_, err = f.FetchStreams(context.Background(), "u1")
	var transient *domain.TransientPollError
	assert.ErrorAs(t, err, &transient)
}

func TestHelixFetcher_CancelPassesThrough(t *testing.T) {
	release := make(chan struct{})
	f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
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
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, domain.IsFatalPoll(err))
}

func TestHelixFetcher_UpdateAccessToken(t *testing.T) {
	seen := make(chan string, 1)
	f := newHelix(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	f.UpdateAccessToken("fresh")

	_, err := f.FetchStreams(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh", <-seen)
}

func TestClassifyTransport(t *testing.T) {
	err := classifyTransport(context.Background(), "streams", errors.New("connection reset"))
	var transient *domain.TransientPollError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "streams", transient.Feature)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = classifyTransport(ctx, "streams", context.Canceled)
	assert.Equal(t, context.Canceled, err)
}
