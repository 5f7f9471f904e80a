package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/app"
	"zhatRelay/internal/app/events"
	"zhatRelay/internal/domain"
	"zhatRelay/internal/infrastructure/bus/redisbus"
	"zhatRelay/internal/infrastructure/config"
	sqlitestorage "zhatRelay/internal/infrastructure/persistence/sqlite"
	twitchinfra "zhatRelay/internal/infrastructure/platform/twitch"
	twitchadapter "zhatRelay/internal/interface/adapters/twitch"
	ws "zhatRelay/internal/interface/api/ws"
	"zhatRelay/internal/logging"
	"zhatRelay/internal/usecase/persist"
	"zhatRelay/internal/usecase/translate"
)

const (
	featureStreams    = "streams"
	featureCheermotes = "cheermotes"

	redisRetryMax = 30 * time.Second
)

type Options struct {
	// Config defaults to config.Load.
	Config *config.Config
	Logger logrus.FieldLogger
	Clock  clockwork.Clock
}

// fetcher polls one channel's stream status and cheermote catalog.
type fetcher interface {
	FetchStreams(ctx context.Context, channelID string) (domain.RawResponse, error)
	FetchCheermotes(ctx context.Context, channelID string) (domain.RawResponse, error)
}

type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	log    logrus.FieldLogger

	store     *sqlitestorage.Store
	bus       *events.Bus
	redis     goredis.UniversalClient
	features  *app.FeatureManager
	registry  *translate.Registry
	projector func()
	wsServer  *ws.Server
	listener  *twitchadapter.Listener

	wg      sync.WaitGroup
	started bool
}

// Start wires storage, the bus, pollers, the chat listener and the HTTP
// server, then returns. Everything runs until Stop or ctx cancellation.
func Start(ctx context.Context, opts Options) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("info", "json")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load(logger)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	runtimeCtx, cancel := context.WithCancel(ctx)
	log := logging.Component(logger, "runtime")

	store, err := sqlitestorage.Open(cfg.DatabasePath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	bus := events.NewBus(logger)
	registry := translate.NewRegistry()

	run := &Runtime{
		ctx:      runtimeCtx,
		cancel:   cancel,
		cfg:      cfg,
		log:      log,
		store:    store,
		bus:      bus,
		registry: registry,
	}

	projector := persist.NewProjector(store.Documents(), store.Notifications(), persist.Options{Logger: logger})
	run.projector = projector.Attach(bus)

	if cfg.RedisAddr != "" {
		run.attachRedis(logger)
	}

	run.features = app.NewFeatureManager(app.ManagerConfig{
		Context:        runtimeCtx,
		Publisher:      bus,
		Translate:      registry.Translate,
		Interval:       cfg.PollInterval,
		MaxBackoff:     cfg.MaxBackoff,
		RequestTimeout: cfg.RequestTimeout,
		Jitter:         0.1,
		Clock:          clock,
		Logger:         logger,
	})

	if err := run.addFeatures(clock); err != nil {
		_ = run.Stop()
		return nil, err
	}

	run.startListener(clock, logger)

	run.wsServer = ws.NewServer(ws.Config{
		Addr:          cfg.WSAddr,
		Bus:           bus,
		Origin:        bus.Origin(),
		Features:      run.features,
		Documents:     store.Documents(),
		Notifications: store.Notifications(),
		Logger:        logger,
	})
	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		if err := run.wsServer.Start(runtimeCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("runtime: ws server stopped")
		}
	}()

	run.started = true
	log.WithFields(logrus.Fields{
		"channels": cfg.TwitchChannelIDs,
		"streams":  cfg.StreamsAPIVersion,
		"cheers":   cfg.CheermotesAPIVersion,
	}).Info("runtime: relay started")
	return run, nil
}

func (r *Runtime) Stop() error {
	if r == nil {
		return nil
	}
	r.cancel()
	if r.features != nil {
		r.features.Shutdown()
	}
	r.wg.Wait()
	if r.projector != nil {
		r.projector()
	}
	r.bus.Close()
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.log.WithError(err).Warn("runtime: redis close")
		}
	}
	r.started = false
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

func (r *Runtime) Bus() *events.Bus {
	if r == nil {
		return nil
	}
	return r.bus
}

func (r *Runtime) Features() *app.FeatureManager {
	if r == nil {
		return nil
	}
	return r.features
}

func (r *Runtime) Config() *config.Config {
	if r == nil {
		return nil
	}
	return r.cfg
}

func (r *Runtime) attachRedis(logger logrus.FieldLogger) {
	client := goredis.NewClient(&goredis.Options{Addr: r.cfg.RedisAddr})
	r.redis = client
	backend := redisbus.New(client, r.cfg.RedisChannel, logger)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.bus.AttachWithRetry(r.ctx, backend, redisRetryMax)
	}()
	r.log.WithFields(logrus.Fields{
		"addr":    r.cfg.RedisAddr,
		"channel": r.cfg.RedisChannel,
	}).Info("runtime: bridging bus over redis")
}

func (r *Runtime) addFeatures(clock clockwork.Clock) error {
	if len(r.cfg.TwitchChannelIDs) == 0 {
		r.log.Warn("runtime: TWITCH_CHANNEL_IDS empty, no pollers started")
		return nil
	}

	streams, err := r.newFetcher(r.cfg.StreamsAPIVersion == domain.VersionStreamsHelix2018, clock)
	if err != nil {
		return fmt.Errorf("streams fetcher: %w", err)
	}
	cheermotes, err := r.newFetcher(r.cfg.CheermotesAPIVersion == domain.VersionCheermotesV5, clock)
	if err != nil {
		return fmt.Errorf("cheermotes fetcher: %w", err)
	}

	for _, channelID := range r.cfg.TwitchChannelIDs {
		specs := []app.FeatureSpec{
			{
				Name:      featureStreams,
				ChannelID: channelID,
				Family:    domain.KindStreamingStatus,
				Request: func(ctx context.Context) (domain.RawResponse, error) {
					return streams.FetchStreams(ctx, channelID)
				},
				Changed: r.registry.Changed(domain.KindStreamingStatus),
			},
			{
				Name:      featureCheermotes,
				ChannelID: channelID,
				Family:    domain.KindCheermotes,
				Request: func(ctx context.Context) (domain.RawResponse, error) {
					return cheermotes.FetchCheermotes(ctx, channelID)
				},
				Changed: r.registry.Changed(domain.KindCheermotes),
			},
		}
		for _, spec := range specs {
			if err := r.features.Add(spec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runtime) newFetcher(legacy bool, clock clockwork.Clock) (fetcher, error) {
	if legacy {
		return twitchinfra.NewLegacyFetcher(twitchinfra.LegacyConfig{
			ClientID:      r.cfg.TwitchClientID,
			AccessToken:   r.cfg.TwitchAPIToken,
			StreamsURL:    r.cfg.StreamsLegacyURL,
			CheermotesURL: r.cfg.CheermotesLegacyURL,
			Timeout:       r.cfg.RequestTimeout,
			Clock:         clock,
		}), nil
	}
	return twitchinfra.NewHelixFetcher(r.cfg.TwitchClientID, r.cfg.TwitchAPIToken, r.cfg.RequestTimeout, clock)
}

func (r *Runtime) startListener(clock clockwork.Clock, logger logrus.FieldLogger) {
	cfg := twitchadapter.Config{
		Username:   strings.TrimSpace(r.cfg.TwitchBotUsername),
		OAuthToken: formatTwitchOAuthToken(r.cfg.TwitchBotToken),
		Channels:   sanitizeTwitchChannels(r.cfg.TwitchBotChannels),
	}
	if cfg.Username == "" || cfg.OAuthToken == "" || len(cfg.Channels) == 0 {
		r.log.Info("runtime: chat listener disabled until bot credentials and channels are set")
		return
	}

	r.listener = twitchadapter.NewListener(cfg, r.registry.Translate, r.bus, clock, logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.listener.Start(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.WithError(err).Error("runtime: chat listener stopped")
		}
	}()
}

func formatTwitchOAuthToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func sanitizeTwitchChannels(input []string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, raw := range input {
		for _, part := range strings.Split(raw, ",") {
			channel := ensureTwitchChannel(part)
			if channel == "" {
				continue
			}
			if _, ok := seen[channel]; ok {
				continue
			}
			seen[channel] = struct{}{}
			result = append(result, channel)
		}
	}
	return result
}

func ensureTwitchChannel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "#") {
		value = "#" + value
	}
	return strings.ToLower(value)
}
