// Package twitchadapter listens to Twitch chat for push notifications.
package twitchadapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/adeithe/go-twitch/irc"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
	"zhatRelay/internal/metrics"
)

type Config struct {
	Username   string
	OAuthToken string
	Channels   []string
}

// Listener turns USERNOTICE messages into notification events.
type Listener struct {
	cfg       Config
	translate domain.Translator
	publisher domain.EventPublisher
	clock     clockwork.Clock
	log       logrus.FieldLogger

	mu   sync.RWMutex
	conn *irc.Conn
}

func NewListener(cfg Config, translate domain.Translator, publisher domain.EventPublisher, clock clockwork.Clock, logger logrus.FieldLogger) *Listener {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Listener{
		cfg:       cfg,
		translate: translate,
		publisher: publisher,
		clock:     clock,
		log:       logging.Component(logger, "twitch-notices"),
	}
}

// Start connects, joins the configured channels and blocks until ctx ends.
func (l *Listener) Start(ctx context.Context) error {
	if len(l.cfg.Channels) == 0 {
		return errors.New("twitch: no channels configured")
	}
	if l.cfg.Username == "" || l.cfg.OAuthToken == "" {
		return errors.New("twitch: username or oauth token empty")
	}

	conn := &irc.Conn{}
	if err := conn.SetLogin(l.cfg.Username, l.cfg.OAuthToken); err != nil {
		return fmt.Errorf("twitch: SetLogin: %w", err)
	}

	conn.OnChannelUserNotice(func(n irc.UserNotice) {
		l.HandleNotice(ctx, rawNoticeFrom(n))
	})

	if err := conn.Connect(); err != nil {
		return fmt.Errorf("twitch: Connect: %w", err)
	}
	if err := conn.Join(l.cfg.Channels...); err != nil {
		conn.Close()
		return fmt.Errorf("twitch: Join: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"username": l.cfg.Username,
		"channels": l.cfg.Channels,
	}).Info("twitch: connected")

	<-ctx.Done()

	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()

	return ctx.Err()
}

// Connected reports whether the chat connection is up.
func (l *Listener) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil && l.conn.IsConnected()
}

// HandleNotice translates one notice and publishes the resulting event.
// Malformed notices are logged and dropped.
func (l *Listener) HandleNotice(ctx context.Context, notice domain.RawNotice) {
	raw := domain.RawResponse{
		Version:    domain.VersionNoticeIRC,
		Family:     domain.KindNotification,
		ChannelID:  notice.Tags["room-id"],
		ReceivedAt: l.clock.Now(),
		Body:       notice,
	}

	event, err := l.translate(raw)
	if err != nil {
		var terr *domain.TranslationError
		if errors.As(err, &terr) {
			metrics.TranslationFailures.WithLabelValues(string(terr.Version), terr.Field).Inc()
			l.log.WithFields(logrus.Fields{
				"version": terr.Version,
				"field":   terr.Field,
				"reason":  terr.Reason,
			}).Warn("twitch: dropping malformed notice")
			return
		}
		l.log.WithError(err).Warn("twitch: cannot translate notice")
		return
	}

	l.log.WithFields(logrus.Fields{
		"channel_id": event.ChannelID(),
		"kind":       event.Kind(),
	}).Debug("twitch: notice received")
	l.publisher.Publish(ctx, event)
}

func rawNoticeFrom(n irc.UserNotice) domain.RawNotice {
	tags := make(map[string]string, len(n.IRCMessage.Tags))
	for k, v := range n.IRCMessage.Tags {
		tags[k] = fmt.Sprint(v)
	}
	if tags["user-id"] == "" && n.Sender.ID != 0 {
		tags["user-id"] = strconv.FormatInt(n.Sender.ID, 10)
	}
	if tags["display-name"] == "" {
		tags["display-name"] = n.Sender.DisplayName
	}
	return domain.RawNotice{
		Message: n.Message,
		Tags:    tags,
	}
}
