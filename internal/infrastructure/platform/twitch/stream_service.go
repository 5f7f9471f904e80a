package twitchinfra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"

	"zhatRelay/internal/domain"
)

// HelixFetcher polls the current Helix streams and cheermotes endpoints.
// Helix builds and authenticates the requests; the served bytes are kept
// as raw JSON so field types are checked by the translators.
type HelixFetcher struct {
	clientID   string
	httpClient *http.Client
	clock      clockwork.Clock
	baseURL    string

	mu    sync.RWMutex
	token string
}

func NewHelixFetcher(clientID, userAccessToken string, timeout time.Duration, clock clockwork.Clock) (*HelixFetcher, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errors.New("helix: client id is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HelixFetcher{
		clientID:   clientID,
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock,
		token:      strings.TrimSpace(userAccessToken),
	}, nil
}

// FetchStreams returns the channel's live stream, or a streams/offline
// response when it is not live.
func (f *HelixFetcher) FetchStreams(ctx context.Context, channelID string) (domain.RawResponse, error) {
	const feature = "streams"
	data, err := f.fetch(ctx, feature, func(c *helix.Client) error {
		_, err := c.GetStreams(&helix.StreamsParams{UserIDs: []string{channelID}})
		return err
	})
	if err != nil {
		return domain.RawResponse{}, err
	}

	var streams []json.RawMessage
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, &streams); err != nil {
			return domain.RawResponse{}, &domain.TransientPollError{Feature: feature, StatusCode: http.StatusOK, Err: fmt.Errorf("helix: streams data: %w", err)}
		}
	}

	raw := domain.RawResponse{
		Family:     domain.KindStreamingStatus,
		ChannelID:  channelID,
		ReceivedAt: f.clock.Now(),
	}
	if len(streams) == 0 {
		raw.Version = domain.VersionStreamsOffline
		raw.Body = domain.StreamOffline{UserID: channelID}
		return raw, nil
	}
	raw.Version = domain.VersionStreamsHelix
	raw.Body = streams[0]
	return raw, nil
}

func (f *HelixFetcher) FetchCheermotes(ctx context.Context, channelID string) (domain.RawResponse, error) {
	const feature = "cheermotes"
	data, err := f.fetch(ctx, feature, func(c *helix.Client) error {
		_, err := c.GetCheermotes(&helix.CheermotesParams{BroadcasterID: channelID})
		return err
	})
	if err != nil {
		return domain.RawResponse{}, err
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = json.RawMessage("[]")
	}
	return domain.RawResponse{
		Version:    domain.VersionCheermotesHelix,
		Family:     domain.KindCheermotes,
		ChannelID:  channelID,
		ReceivedAt: f.clock.Now(),
		Body:       data,
	}, nil
}

func (f *HelixFetcher) UpdateAccessToken(token string) {
	if f == nil {
		return
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

// fetch runs one helix call bound to ctx and returns the "data" member of
// a 200 response. Helix's own decode of that body is ignored.
func (f *HelixFetcher) fetch(ctx context.Context, feature string, call func(*helix.Client) error) (json.RawMessage, error) {
	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()

	rec := &bodyRecorder{inner: f.httpClient}
	client, err := helix.NewClientWithContext(ctx, &helix.Options{
		ClientID:        f.clientID,
		UserAccessToken: token,
		HTTPClient:      rec,
		APIBaseURL:      f.baseURL,
	})
	if err != nil {
		return nil, &domain.FatalPollError{Feature: feature, Err: fmt.Errorf("helix: NewClient: %w", err)}
	}

	callErr := call(client)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch {
	case rec.status == 0:
		if callErr == nil {
			callErr = errors.New("no response")
		}
		return nil, classifyTransport(ctx, feature, fmt.Errorf("helix: %s: %w", feature, callErr))
	case rec.status != http.StatusOK:
		detail := rec.body
		if len(detail) > maxErrorBody {
			detail = detail[:maxErrorBody]
		}
		return nil, classifyStatus(feature, rec.status, strings.TrimSpace(string(detail)))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.body, &envelope); err != nil {
		return nil, &domain.TransientPollError{Feature: feature, StatusCode: rec.status, Err: fmt.Errorf("helix: decode %s: %w", feature, err)}
	}
	return envelope.Data, nil
}

// bodyRecorder keeps the status and bytes of the last response it served.
type bodyRecorder struct {
	inner  *http.Client
	status int
	body   []byte
}

func (r *bodyRecorder) Do(req *http.Request) (*http.Response, error) {
	resp, err := r.inner.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	r.status = resp.StatusCode
	r.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
