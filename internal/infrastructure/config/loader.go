package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/domain"
)

const (
	defaultPollInterval   = 30 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
	defaultRequestTimeout = 10 * time.Second
	defaultDatabasePath   = "data/relay.db"
	defaultRedisChannel   = "relay:events"
	defaultWSAddr         = ":8080"

	defaultStreamsLegacyURL    = "https://api.twitch.tv/helix/streams"
	defaultCheermotesLegacyURL = "https://api.twitch.tv/kraken/bits/actions"
)

type Config struct {
	TwitchClientID    string
	TwitchAPIToken    string
	TwitchChannelIDs  []string
	TwitchBotUsername string
	TwitchBotToken    string
	TwitchBotChannels []string

	StreamsAPIVersion    domain.RawVersion
	StreamsLegacyURL     string
	CheermotesAPIVersion domain.RawVersion
	CheermotesLegacyURL  string

	PollInterval   time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration

	DatabasePath string
	RedisAddr    string
	RedisChannel string
	WSAddr       string

	LogLevel  string
	LogFormat string
}

// Load reads .env (when present) and the process environment. Malformed
// values fall back to defaults; the logger, if given, reports them.
func Load(logger logrus.FieldLogger) *Config {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Debug("config: no .env file loaded; relying on process environment")
	}

	cfg := &Config{
		TwitchClientID:    strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID")),
		TwitchAPIToken:    strings.TrimSpace(os.Getenv("TWITCH_API_ACCESS_TOKEN")),
		TwitchChannelIDs:  splitList(os.Getenv("TWITCH_CHANNEL_IDS")),
		TwitchBotUsername: strings.TrimSpace(os.Getenv("TWITCH_BOT_USERNAME")),
		TwitchBotToken:    strings.TrimSpace(os.Getenv("TWITCH_BOT_ACCESS_TOKEN")),
		TwitchBotChannels: splitList(os.Getenv("TWITCH_BOT_CHANNELS")),

		StreamsAPIVersion:    streamsVersion(os.Getenv("STREAMS_API_VERSION")),
		StreamsLegacyURL:     envOr("STREAMS_LEGACY_URL", defaultStreamsLegacyURL),
		CheermotesAPIVersion: cheermotesVersion(os.Getenv("CHEERMOTES_API_VERSION")),
		CheermotesLegacyURL:  envOr("CHEERMOTES_LEGACY_URL", defaultCheermotesLegacyURL),

		PollInterval:   envMillis(logger, "POLL_INTERVAL_MS", defaultPollInterval),
		MaxBackoff:     envMillis(logger, "POLL_MAX_BACKOFF_MS", defaultMaxBackoff),
		RequestTimeout: envMillis(logger, "POLL_REQUEST_TIMEOUT_MS", defaultRequestTimeout),

		DatabasePath: envOr("DATABASE_PATH", defaultDatabasePath),
		RedisAddr:    strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisChannel: envOr("REDIS_CHANNEL", defaultRedisChannel),
		WSAddr:       envOr("RELAY_WS_ADDR", defaultWSAddr),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),
	}

	if logger != nil && (cfg.TwitchClientID == "" || cfg.TwitchAPIToken == "") {
		logger.Warn("config: TWITCH_CLIENT_ID or TWITCH_API_ACCESS_TOKEN missing; helix polling will be rejected")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envMillis(logger logrus.FieldLogger, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		if logger != nil {
			logger.WithField("key", key).Warnf("config: invalid value %q, using %s", raw, fallback)
		}
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func streamsVersion(raw string) domain.RawVersion {
	if strings.EqualFold(strings.TrimSpace(raw), "helix-2018") {
		return domain.VersionStreamsHelix2018
	}
	return domain.VersionStreamsHelix
}

func cheermotesVersion(raw string) domain.RawVersion {
	if strings.EqualFold(strings.TrimSpace(raw), "v5") {
		return domain.VersionCheermotesV5
	}
	return domain.VersionCheermotesHelix
}
