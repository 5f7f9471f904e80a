// Package redisbus carries bus envelopes between processes over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/app/events"
	"zhatRelay/internal/logging"
)

// Backend publishes envelopes to one Redis channel. Redis delivers messages
// from a single connection in publish order.
type Backend struct {
	client  goredis.UniversalClient
	channel string
	log     logrus.FieldLogger
}

var _ events.Backend = (*Backend)(nil)

func New(client goredis.UniversalClient, channel string, logger logrus.FieldLogger) *Backend {
	return &Backend{
		client:  client,
		channel: channel,
		log:     logging.Component(logger, "redisbus").WithField("channel", channel),
	}
}

func (b *Backend) Publish(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisbus: marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: publish: %w", err)
	}

	return nil
}

// Subscribe blocks until ctx ends or the subscription is closed, handing
// every decodable envelope to handle in arrival order.
func (b *Backend) Subscribe(ctx context.Context, handle func(events.Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("redisbus: subscribe: %w", err)
	}
	b.log.Debug("redisbus: subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env events.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.WithError(err).Warn("redisbus: dropping malformed envelope")
				continue
			}
			handle(env)
		}
	}
}
