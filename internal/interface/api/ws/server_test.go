package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhatRelay/internal/app"
	"zhatRelay/internal/app/events"
	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
)

var t0 = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

func statusEvent(viewers int64) domain.Event {
	return domain.NewStreamingStatusEvent("u1", t0, domain.StreamStatus{
		ID:          "abc",
		UserID:      "u1",
		Type:        domain.StreamTypeLive,
		ViewerCount: viewers,
		StartedAt:   t0,
	})
}

type fakeFeatures struct {
	mu        sync.Mutex
	restarted []string
}

func (f *fakeFeatures) Statuses() []app.FeatureState {
	return []app.FeatureState{{ID: "streams:u1", Name: "streams", ChannelID: "u1", Status: app.FeatureRunning}}
}

func (f *fakeFeatures) Restart(id string) error {
	if id != "streams:u1" {
		return app.ErrFeatureNotFound
	}
	f.mu.Lock()
	f.restarted = append(f.restarted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeFeatures) restartedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restarted...)
}

type fakeDocuments struct {
	docs map[domain.DocumentKey]domain.Document
}

func (f *fakeDocuments) Upsert(context.Context, domain.Document) error { return nil }

func (f *fakeDocuments) FindByKey(_ context.Context, key domain.DocumentKey) (domain.Document, error) {
	doc, ok := f.docs[key]
	if !ok {
		return domain.Document{}, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeDocuments) DeleteByKey(context.Context, domain.DocumentKey) error { return nil }

type fakeNotifications struct {
	list []domain.Notification
	err  error
}

func (f *fakeNotifications) AppendNotification(context.Context, string, domain.Notification) error {
	return nil
}

func (f *fakeNotifications) ListNotifications(_ context.Context, channelID string, limit int) ([]domain.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	if channelID != "u1" {
		return nil, nil
	}
	return f.list, nil
}

type harness struct {
	srv  *Server
	http *httptest.Server
	bus  *events.Bus
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg.Logger = logging.Discard()
	srv := NewServer(cfg)
	bus := events.NewBus(logging.Discard())
	t.Cleanup(bus.Close)
	t.Cleanup(srv.Attach(bus))

	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)
	return &harness{srv: srv, http: ts, bus: bus}
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestServer_ForwardsEventsAsEnvelopes(t *testing.T) {
	h := newHarness(t, Config{Origin: "relay-test"})
	conn := h.dial(t, "")
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.bus.Publish(context.Background(), statusEvent(42))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.KindStreamingStatus, env.Kind)
	assert.Equal(t, "u1", env.ChannelID)
	assert.Equal(t, "relay-test", env.Origin)

	decoded, err := env.Event()
	require.NoError(t, err)
	assert.Equal(t, int64(42), decoded.(domain.StreamingStatusEvent).Status.ViewerCount)
}

func TestServer_PreservesOrderPerClient(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "")
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	for i := int64(1); i <= 5; i++ {
		h.bus.Publish(context.Background(), statusEvent(i))
	}
	for i := int64(1); i <= 5; i++ {
		decoded, err := readEnvelope(t, conn).Event()
		require.NoError(t, err)
		assert.Equal(t, i, decoded.(domain.StreamingStatusEvent).Status.ViewerCount)
	}
}

func TestServer_KindFilter(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "?kinds=cheermotes")
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.bus.Publish(context.Background(), statusEvent(1))
	h.bus.Publish(context.Background(), domain.NewCheermotesEvent("u1", t0, domain.CheermoteCatalog{}))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.KindCheermotes, env.Kind)
}

func TestServer_ControlMessageChangesFilter(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "?kinds=cheermotes")
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Kinds: []string{string(domain.KindStreamingStatus)}}))

	// The control message is handled asynchronously, so publish until one
	// status envelope arrives.
	got := make(chan events.Envelope, 1)
	go func() {
		var env events.Envelope
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		h.bus.Publish(context.Background(), statusEvent(7))
		select {
		case env := <-got:
			assert.Equal(t, domain.KindStreamingStatus, env.Kind)
			return
		case <-deadline:
			t.Fatal("no status envelope after changing the filter")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestServer_RemovesDisconnectedClients(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t, "")
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.srv.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAPI_Features(t *testing.T) {
	features := &fakeFeatures{}
	h := newHarness(t, Config{Features: features})

	resp, err := http.Get(h.http.URL + "/api/features")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body featuresResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Features, 1)
	assert.Equal(t, "streams:u1", body.Features[0].ID)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_FeatureRestart(t *testing.T) {
	features := &fakeFeatures{}
	h := newHarness(t, Config{Features: features})

	post := func(body string) int {
		resp, err := http.Post(h.http.URL+"/api/features/restart", "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post(`{"id":"streams:u1"}`))
	assert.Equal(t, http.StatusNotFound, post(`{"id":"cheermotes:u9"}`))
	assert.Equal(t, http.StatusBadRequest, post(`{}`))
	assert.Equal(t, []string{"streams:u1"}, features.restartedIDs())
}

func TestAPI_Documents(t *testing.T) {
	key := domain.DocumentKey{ChannelID: "u1", Kind: domain.KindStreamingStatus}
	docs := &fakeDocuments{docs: map[domain.DocumentKey]domain.Document{
		key: {Key: key, Fields: map[string]string{"viewerCount": "42"}, UpdatedAt: t0},
	}}
	h := newHarness(t, Config{Documents: docs})

	resp, err := http.Get(h.http.URL + "/api/documents?channel=u1&kind=streaming-status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc domain.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, key, doc.Key)
	assert.Equal(t, "42", doc.Fields["viewerCount"])

	missing, err := http.Get(h.http.URL + "/api/documents?channel=u2&kind=cheermotes")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	bad, err := http.Get(h.http.URL + "/api/documents?channel=u1")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAPI_Notifications(t *testing.T) {
	notes := &fakeNotifications{list: []domain.Notification{{ID: "n1", Type: domain.NotificationRaid, Amount: 12}}}
	h := newHarness(t, Config{Notifications: notes})

	resp, err := http.Get(h.http.URL + "/api/notifications?channel=u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, int64(12), body.Notifications[0].Amount)

	empty, err := http.Get(h.http.URL + "/api/notifications?channel=u2")
	require.NoError(t, err)
	defer empty.Body.Close()
	var emptyBody map[string][]domain.Notification
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&emptyBody))
	assert.NotNil(t, emptyBody["notifications"])
	assert.Empty(t, emptyBody["notifications"])
}

func TestAPI_NotificationsStorageError(t *testing.T) {
	h := newHarness(t, Config{Notifications: &fakeNotifications{err: errors.New("disk gone")}})

	resp, err := http.Get(h.http.URL + "/api/notifications?channel=u1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_PreflightAndMetrics(t *testing.T) {
	h := newHarness(t, Config{Features: &fakeFeatures{}})

	req, err := http.NewRequest(http.MethodOptions, h.http.URL+"/api/features", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	metricsResp, err := http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
