package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
	"zhatRelay/internal/metrics"
)

const defaultBufferSize = 128

// Handler consumes one event. It runs on the subscriber's own goroutine, so
// blocking work only delays that subscriber.
type Handler func(ctx context.Context, event domain.Event)

// OverflowPolicy is what a subscriber does when its queue is full. The bus
// applies it per subscriber; it never blocks the publisher.
type OverflowPolicy int

const (
	DropNewest OverflowPolicy = iota
	DropOldest
)

type SubscribeOption func(*subscriber)

// WithBuffer sets the subscriber queue length.
func WithBuffer(n int) SubscribeOption {
	return func(s *subscriber) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

func WithOverflow(p OverflowPolicy) SubscribeOption {
	return func(s *subscriber) { s.policy = p }
}

// WithName labels the subscriber in logs and metrics.
func WithName(name string) SubscribeOption {
	return func(s *subscriber) { s.name = name }
}

// WithLocalOnly skips events that arrived from a remote backend.
func WithLocalOnly() SubscribeOption {
	return func(s *subscriber) { s.localOnly = true }
}

type delivery struct {
	event  domain.Event
	remote bool
}

// Bus routes events by kind to independent subscribers. Each subscriber owns
// a bounded FIFO queue drained by one goroutine, which keeps publication
// order per subscriber and isolates slow consumers.
type Bus struct {
	origin string
	log    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	subs      map[domain.Kind]map[int]*subscriber
	nextSubID int
	closed    bool
}

func NewBus(logger logrus.FieldLogger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		origin: uuid.NewString(),
		log:    logging.Component(logger, "bus"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[domain.Kind]map[int]*subscriber),
	}
}

// Origin identifies this bus instance on a shared backend.
func (b *Bus) Origin() string { return b.origin }

// Publish hands event to every current subscriber of its kind and returns
// without waiting for any handler.
func (b *Bus) Publish(_ context.Context, event domain.Event) {
	if event == nil || event.Kind() == "" || event.Kind() == domain.KindAll {
		return
	}
	b.dispatch(delivery{event: event})
}

func (b *Bus) dispatch(d delivery) {
	kind := d.event.Kind()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*subscriber, 0, len(b.subs[kind])+len(b.subs[domain.KindAll]))
	for _, s := range b.subs[kind] {
		targets = append(targets, s)
	}
	for _, s := range b.subs[domain.KindAll] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(kind)).Inc()

	for _, s := range targets {
		if d.remote && s.localOnly {
			continue
		}
		if !s.enqueue(d) {
			b.recordDrop(s, kind)
		}
	}
}

// Subscribe registers handler for kind (or domain.KindAll). Events published
// before this call are not delivered.
func (b *Bus) Subscribe(kind domain.Kind, handler Handler, opts ...SubscribeOption) *Subscription {
	s := &subscriber{
		kind:       kind,
		name:       string(kind),
		handler:    handler,
		bufferSize: defaultBufferSize,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan delivery, s.bufferSize)

	sub := &Subscription{bus: b, sub: s}

	b.mu.Lock()
	if b.closed || handler == nil {
		b.mu.Unlock()
		s.stop()
		return sub
	}
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[int]*subscriber)
	}
	s.id = b.nextSubID
	b.nextSubID++
	b.subs[kind][s.id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	metrics.Subscribers.Inc()
	go b.run(s)

	return sub
}

// Close stops every subscriber and waits for in-flight handlers to return.
// Queued but undelivered events are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := make([]*subscriber, 0)
	for _, byID := range b.subs {
		for _, s := range byID {
			all = append(all, s)
		}
	}
	b.subs = make(map[domain.Kind]map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) remove(s *subscriber) {
	b.mu.Lock()
	if byID, ok := b.subs[s.kind]; ok {
		if existing, present := byID[s.id]; present && existing == s {
			delete(byID, s.id)
			if len(byID) == 0 {
				delete(b.subs, s.kind)
			}
		}
	}
	b.mu.Unlock()
	s.stop()
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	defer metrics.Subscribers.Dec()

	for {
		select {
		case <-s.done:
			return
		case d := <-s.queue:
			b.deliver(s, d)
		}
	}
}

func (b *Bus) deliver(s *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"subscriber": s.name,
				"kind":       d.event.Kind(),
				"channel_id": d.event.ChannelID(),
			}).Errorf("bus: handler panic: %v", r)
		}
	}()
	s.handler(b.ctx, d.event)
}

func (b *Bus) recordDrop(s *subscriber, kind domain.Kind) {
	total := s.drops.Add(1)
	metrics.EventsDropped.WithLabelValues(string(kind), s.name).Inc()
	if total%100 == 1 {
		b.log.WithFields(logrus.Fields{
			"subscriber": s.name,
			"kind":       kind,
			"drops":      total,
		}).Warn("bus: subscriber queue full, dropping events")
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus  *Bus
	sub  *subscriber
	once sync.Once
}

// Unsubscribe stops delivery. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s.sub) })
}

// Dropped reports how many events this subscriber lost to its overflow policy.
func (s *Subscription) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.sub.drops.Load()
}
