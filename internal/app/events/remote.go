package events

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/metrics"
)

const remoteBufferSize = 1024

var errBackendClosed = errors.New("bus: backend subscription ended")

// Backend is a cross-process publish/subscribe transport. It must deliver
// envelopes from one publisher in the order they were published.
type Backend interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks, calling handle for every envelope, until ctx ends.
	Subscribe(ctx context.Context, handle func(Envelope)) error
}

// Attach bridges the bus to backend until ctx is cancelled: locally
// published events are forwarded, and envelopes from other origins are
// dispatched to local subscribers. Envelopes carrying this bus's origin are
// ignored.
func (b *Bus) Attach(ctx context.Context, backend Backend) error {
	log := b.log.WithField("origin", b.origin)

	forward := b.Subscribe(domain.KindAll, func(hctx context.Context, event domain.Event) {
		env, err := NewEnvelope(event, b.origin)
		if err != nil {
			metrics.RemoteEnvelopes.WithLabelValues("out", "encode_error").Inc()
			log.WithError(err).Warn("bus: cannot encode event for backend")
			return
		}
		if err := backend.Publish(hctx, env); err != nil {
			metrics.RemoteEnvelopes.WithLabelValues("out", "error").Inc()
			log.WithError(err).WithField("kind", env.Kind).Warn("bus: backend publish failed")
			return
		}
		metrics.RemoteEnvelopes.WithLabelValues("out", "ok").Inc()
	}, WithName("remote-forwarder"), WithLocalOnly(), WithBuffer(remoteBufferSize))
	defer forward.Unsubscribe()

	err := backend.Subscribe(ctx, func(env Envelope) {
		if env.Origin == b.origin {
			return
		}
		event, err := env.Event()
		if err != nil {
			metrics.RemoteEnvelopes.WithLabelValues("in", "decode_error").Inc()
			log.WithError(err).WithFields(logrus.Fields{
				"kind":        env.Kind,
				"envelope_id": env.ID,
			}).Warn("bus: dropping undecodable envelope")
			return
		}
		metrics.RemoteEnvelopes.WithLabelValues("in", "ok").Inc()
		b.dispatch(delivery{event: event, remote: true})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// AttachWithRetry keeps the bus attached to backend until ctx ends. An
// unreachable backend, or one whose subscription ends early, is retried
// with exponential backoff capped at maxInterval. A long-lived attachment
// resets the backoff.
func (b *Bus) AttachWithRetry(ctx context.Context, backend Backend, maxInterval time.Duration) {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     min(500*time.Millisecond, maxInterval),
		RandomizationFactor: 0.1,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	log := b.log.WithField("origin", b.origin)

	attempt := func() error {
		started := time.Now()
		err := b.Attach(ctx, backend)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errBackendClosed
		}
		if time.Since(started) > maxInterval {
			bo.Reset()
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait.String()).Warn("bus: backend unavailable, retrying")
	}

	_ = backoff.RetryNotify(attempt, backoff.WithContext(bo, ctx), notify)
}
