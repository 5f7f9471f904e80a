package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/app/events"
	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 200 * time.Millisecond
	queueSize           = 256
)

type Subscriber interface {
	Subscribe(kind domain.Kind, handler events.Handler, opts ...events.SubscribeOption) *events.Subscription
}

type Options struct {
	// MaxRetries bounds upsert retries after a RepositoryError.
	MaxRetries   uint64
	RetryBackoff time.Duration
	Logger       logrus.FieldLogger
}

// Projector keeps one document per (channel, kind) in step with the bus and
// appends notifications to the log.
type Projector struct {
	docs  domain.DocumentRepository
	notes domain.NotificationLog
	opts  Options
	log   logrus.FieldLogger
}

func NewProjector(docs domain.DocumentRepository, notes domain.NotificationLog, opts Options) *Projector {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Projector{
		docs:  docs,
		notes: notes,
		opts:  opts,
		log:   logging.Component(opts.Logger, "projector"),
	}
}

// Attach subscribes the projector and returns a function that detaches it.
// State kinds keep the newest events when the store falls behind.
func (p *Projector) Attach(bus Subscriber) func() {
	subs := []*events.Subscription{
		bus.Subscribe(domain.KindCheermotes, p.Handle,
			events.WithName("projector-cheermotes"), events.WithBuffer(queueSize), events.WithOverflow(events.DropOldest)),
		bus.Subscribe(domain.KindStreamingStatus, p.Handle,
			events.WithName("projector-status"), events.WithBuffer(queueSize), events.WithOverflow(events.DropOldest)),
	}
	if p.notes != nil {
		subs = append(subs, bus.Subscribe(domain.KindNotification, p.Handle,
			events.WithName("projector-notifications"), events.WithBuffer(queueSize)))
	}
	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
}

// Handle projects one event. Failures are logged; the event is not retried
// beyond the bounded upsert retries.
func (p *Projector) Handle(ctx context.Context, event domain.Event) {
	log := p.log.WithFields(logrus.Fields{
		"kind":       event.Kind(),
		"channel_id": event.ChannelID(),
	})

	var err error
	switch e := event.(type) {
	case domain.NotificationEvent:
		if p.notes == nil {
			return
		}
		err = p.notes.AppendNotification(ctx, e.ChannelID(), e.Notification)
	default:
		var doc domain.Document
		doc, err = Project(event)
		if err == nil {
			err = p.upsert(ctx, doc)
		}
	}

	if err != nil {
		log.WithError(err).Error("projector: event not persisted")
		return
	}
	log.Debug("projector: event persisted")
}

func (p *Projector) upsert(ctx context.Context, doc domain.Document) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.opts.RetryBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := p.docs.Upsert(ctx, doc)
		var repoErr *domain.RepositoryError
		if err != nil && !errors.As(err, &repoErr) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.log.WithError(err).WithFields(logrus.Fields{
			"key":      doc.Key.String(),
			"attempt":  attempt,
			"retry_in": wait.String(),
		}).Warn("projector: upsert failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, p.opts.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, notify)
}

// Project maps a state event to its document. Cheermote catalogs embed one
// child per cheermote; stream statuses embed one child per community id.
func Project(event domain.Event) (domain.Document, error) {
	key := domain.DocumentKey{ChannelID: event.ChannelID(), Kind: event.Kind()}

	switch e := event.(type) {
	case domain.CheermotesEvent:
		embedded := make([]domain.EmbeddedDocument, 0, len(e.Catalog.Cheermotes))
		for _, cm := range e.Catalog.Cheermotes {
			data, err := json.Marshal(cm)
			if err != nil {
				return domain.Document{}, fmt.Errorf("projector: encode cheermote %s: %w", cm.Name, err)
			}
			embedded = append(embedded, domain.EmbeddedDocument{Name: cm.Name, Data: data})
		}
		return domain.Document{
			Key: key,
			Fields: map[string]string{
				"count": strconv.Itoa(len(e.Catalog.Cheermotes)),
			},
			Embedded:  embedded,
			UpdatedAt: e.OccurredAt(),
		}, nil

	case domain.StreamingStatusEvent:
		s := e.Status
		fields := map[string]string{
			"gameId":       s.GameID,
			"id":           s.ID,
			"language":     s.Language,
			"thumbnailUrl": s.ThumbnailURL,
			"title":        s.Title,
			"type":         s.Type,
			"userId":       s.UserID,
			"viewerCount":  strconv.FormatInt(s.ViewerCount, 10),
		}
		if !s.StartedAt.IsZero() {
			fields["startedAt"] = s.StartedAt.UTC().Format(time.RFC3339)
		}

		embedded := make([]domain.EmbeddedDocument, 0, len(s.CommunityIDs))
		for _, id := range s.CommunityIDs {
			data, err := json.Marshal(map[string]string{"id": id})
			if err != nil {
				return domain.Document{}, fmt.Errorf("projector: encode community %s: %w", id, err)
			}
			embedded = append(embedded, domain.EmbeddedDocument{Name: "community", Data: data})
		}
		return domain.Document{
			Key:       key,
			Fields:    fields,
			Embedded:  embedded,
			UpdatedAt: e.OccurredAt(),
		}, nil
	}

	return domain.Document{}, fmt.Errorf("projector: no document projection for kind %q", event.Kind())
}
