package poller

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
	"zhatRelay/internal/metrics"
)

var ErrAlreadyRunning = errors.New("poller: already running")

// RequestFunc performs one poll. It must honour ctx, which carries the
// per-request timeout.
type RequestFunc func(ctx context.Context) (domain.RawResponse, error)

// ChangedFunc reports whether next differs meaningfully from prev.
type ChangedFunc func(prev, next domain.RawResponse) bool

type Config struct {
	Feature        string
	Interval       time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	// Jitter is the backoff randomization factor in [0,1). Zero disables it.
	Jitter  float64
	Request RequestFunc
	// Changed defaults to structural inequality of the bodies.
	Changed ChangedFunc
	Clock   clockwork.Clock
	Logger  logrus.FieldLogger
}

// Poller repeatedly calls one endpoint and emits a response only when it
// differs from the last successfully observed one. Transient failures are
// retried forever with capped exponential backoff; a FatalPollError stops it.
type Poller struct {
	cfg   Config
	clock clockwork.Clock
	log   logrus.FieldLogger

	mu      sync.Mutex
	last    *domain.RawResponse
	running bool
}

func New(cfg Config) (*Poller, error) {
	if cfg.Request == nil {
		return nil, fmt.Errorf("poller %s: request func required", cfg.Feature)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poller %s: interval must be positive", cfg.Feature)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = cfg.Interval
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = 0
	}
	if cfg.Changed == nil {
		cfg.Changed = StructuralChange
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Poller{
		cfg:   cfg,
		clock: clock,
		log:   logging.Component(cfg.Logger, "poller").WithField("feature", cfg.Feature),
	}, nil
}

// StructuralChange treats any difference in the bodies as a change.
func StructuralChange(prev, next domain.RawResponse) bool {
	return prev.Version != next.Version || !reflect.DeepEqual(prev.Body, next.Body)
}

// Run polls until ctx is cancelled (returning nil) or a fatal failure occurs
// (returning it). The first request is issued immediately. emit runs on the
// polling goroutine and is never interrupted by cancellation.
func (p *Poller) Run(ctx context.Context, emit func(domain.RawResponse)) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	bo := p.newBackoff()
	gauge := metrics.PollBackoffSeconds.WithLabelValues(p.cfg.Feature)
	var wait time.Duration

	for {
		if wait > 0 {
			timer := p.clock.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.Chan():
			}
		} else if ctx.Err() != nil {
			return nil
		}

		raw, err := p.poll(ctx)
		if err == nil {
			bo.Reset()
			gauge.Set(0)
			if p.observe(raw) {
				metrics.PollRequests.WithLabelValues(p.cfg.Feature, "changed").Inc()
				emit(raw)
			} else {
				metrics.PollRequests.WithLabelValues(p.cfg.Feature, "unchanged").Inc()
			}
			wait = p.cfg.Interval
			continue
		}

		if ctx.Err() != nil {
			return nil
		}

		if domain.IsFatalPoll(err) {
			metrics.PollRequests.WithLabelValues(p.cfg.Feature, "fatal").Inc()
			p.log.WithError(err).Error("poller: fatal failure, stopping")
			return err
		}

		metrics.PollRequests.WithLabelValues(p.cfg.Feature, "transient").Inc()
		wait = bo.NextBackOff()
		gauge.Set(wait.Seconds())
		p.log.WithError(err).WithField("retry_in", wait.String()).Warn("poller: transient failure")
	}
}

// Stream starts Run on its own goroutine. The response channel closes when
// polling ends; a fatal failure is sent on the error channel first.
func (p *Poller) Stream(ctx context.Context) (<-chan domain.RawResponse, <-chan error) {
	out := make(chan domain.RawResponse)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		err := p.Run(ctx, func(raw domain.RawResponse) {
			select {
			case out <- raw:
			case <-ctx.Done():
			}
		})
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

// Reset forgets the last observed response so the next success is emitted.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()
}

func (p *Poller) poll(ctx context.Context) (domain.RawResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	raw, err := p.cfg.Request(reqCtx)
	if err == nil {
		return raw, nil
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.RawResponse{}, &domain.TransientPollError{Feature: p.cfg.Feature, Err: err}
	}
	return domain.RawResponse{}, err
}

// observe records raw as the last successful response and reports whether it
// should be emitted.
func (p *Poller) observe(raw domain.RawResponse) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.last == nil || p.cfg.Changed(*p.last, raw)
	p.last = &raw
	return changed
}

func (p *Poller) newBackoff() *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.Interval,
		RandomizationFactor: p.cfg.Jitter,
		Multiplier:          2,
		MaxInterval:         p.cfg.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               p.clock,
	}
	bo.Reset()
	return bo
}
