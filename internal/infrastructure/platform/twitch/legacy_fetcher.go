package twitchinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"zhatRelay/internal/domain"
)

const maxErrorBody = 512

type LegacyConfig struct {
	ClientID      string
	AccessToken   string
	StreamsURL    string
	CheermotesURL string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Clock         clockwork.Clock
}

// LegacyFetcher reads the 2018 streams shape and the v5 cheermotes catalog
// with a bearer-authenticated GET. Records are handed on as raw JSON; field
// types are checked by the translators.
type LegacyFetcher struct {
	cfg    LegacyConfig
	client *http.Client
	clock  clockwork.Clock

	mu    sync.RWMutex
	token string
}

func NewLegacyFetcher(cfg LegacyConfig) *LegacyFetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LegacyFetcher{
		cfg:    cfg,
		client: client,
		clock:  clock,
		token:  strings.TrimSpace(cfg.AccessToken),
	}
}

func (f *LegacyFetcher) FetchStreams(ctx context.Context, channelID string) (domain.RawResponse, error) {
	const feature = "streams"
	var page struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := f.get(ctx, feature, f.cfg.StreamsURL, url.Values{"user_id": {channelID}}, &page); err != nil {
		return domain.RawResponse{}, err
	}

	raw := domain.RawResponse{
		Family:     domain.KindStreamingStatus,
		ChannelID:  channelID,
		ReceivedAt: f.clock.Now(),
	}
	if len(page.Data) == 0 {
		raw.Version = domain.VersionStreamsOffline
		raw.Body = domain.StreamOffline{UserID: channelID}
		return raw, nil
	}
	raw.Version = domain.VersionStreamsHelix2018
	raw.Body = page.Data[0]
	return raw, nil
}

func (f *LegacyFetcher) FetchCheermotes(ctx context.Context, channelID string) (domain.RawResponse, error) {
	const feature = "cheermotes"
	var body json.RawMessage
	if err := f.get(ctx, feature, f.cfg.CheermotesURL, url.Values{"channel_id": {channelID}}, &body); err != nil {
		return domain.RawResponse{}, err
	}
	return domain.RawResponse{
		Version:    domain.VersionCheermotesV5,
		Family:     domain.KindCheermotes,
		ChannelID:  channelID,
		ReceivedAt: f.clock.Now(),
		Body:       body,
	}, nil
}

func (f *LegacyFetcher) UpdateAccessToken(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *LegacyFetcher) get(ctx context.Context, feature, endpoint string, query url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &domain.FatalPollError{Feature: feature, Err: fmt.Errorf("legacy: bad url %q: %w", endpoint, err)}
	}
	q := u.Query()
	for k, v := range query {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &domain.FatalPollError{Feature: feature, Err: fmt.Errorf("legacy: new request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if f.cfg.ClientID != "" {
		req.Header.Set("Client-ID", f.cfg.ClientID)
	}
	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransport(ctx, feature, fmt.Errorf("legacy: GET %s: %w", u.Redacted(), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(feature, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classifyTransport(ctx, feature, fmt.Errorf("legacy: decode %s: %w", u.Redacted(), err))
	}
	return nil
}
