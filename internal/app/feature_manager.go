package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"zhatRelay/internal/app/poller"
	"zhatRelay/internal/domain"
	"zhatRelay/internal/logging"
	"zhatRelay/internal/metrics"
)

type FeatureStatus string

const (
	FeatureRunning FeatureStatus = "running"
	FeatureFailed  FeatureStatus = "failed"
	FeatureStopped FeatureStatus = "stopped"
)

var (
	ErrFeatureExists   = errors.New("feature already registered")
	ErrFeatureNotFound = errors.New("feature not found")
)

// FeatureSpec describes one polled endpoint for one channel.
type FeatureSpec struct {
	Name      string
	ChannelID string
	Family    domain.Kind
	Request   poller.RequestFunc
	Changed   poller.ChangedFunc
}

func (s FeatureSpec) ID() string { return s.Name + ":" + s.ChannelID }

// FeatureState is the externally visible health of a feature.
type FeatureState struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	ChannelID string        `json:"channelId"`
	Status    FeatureStatus `json:"status"`
	LastError string        `json:"lastError,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Restarts  int           `json:"restarts"`
	Published uint64        `json:"published"`
	Rejected  uint64        `json:"rejected"`
}

type ManagerConfig struct {
	Context        context.Context
	Publisher      domain.EventPublisher
	Translate      domain.Translator
	Interval       time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration
	Jitter         float64
	Clock          clockwork.Clock
	Logger         logrus.FieldLogger
}

// FeatureManager runs one poll, translate and publish pipeline per feature.
// A feature that fails stops alone; the others keep running.
type FeatureManager struct {
	ctx   context.Context
	cfg   ManagerConfig
	clock clockwork.Clock
	log   logrus.FieldLogger

	// lifecycle serializes Restart, Stop and Shutdown.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	features map[string]*featureRuntime
}

type featureRuntime struct {
	spec   FeatureSpec
	poller *poller.Poller
	cancel context.CancelFunc
	done   chan struct{}
	state  FeatureState
}

func NewFeatureManager(cfg ManagerConfig) *FeatureManager {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FeatureManager{
		ctx:      ctx,
		cfg:      cfg,
		clock:    clock,
		log:      logging.Component(cfg.Logger, "feature-manager"),
		features: make(map[string]*featureRuntime),
	}
}

// Add registers a feature and starts polling it.
func (m *FeatureManager) Add(spec FeatureSpec) error {
	if spec.Name == "" || spec.ChannelID == "" {
		return fmt.Errorf("feature manager: name and channel required")
	}

	p, err := poller.New(poller.Config{
		Feature:        spec.ID(),
		Interval:       m.cfg.Interval,
		MaxBackoff:     m.cfg.MaxBackoff,
		RequestTimeout: m.cfg.RequestTimeout,
		Jitter:         m.cfg.Jitter,
		Request:        spec.Request,
		Changed:        spec.Changed,
		Clock:          m.clock,
		Logger:         m.cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("feature manager: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.features[spec.ID()]; exists {
		return fmt.Errorf("feature manager: %s: %w", spec.ID(), ErrFeatureExists)
	}

	rt := &featureRuntime{
		spec:   spec,
		poller: p,
		state: FeatureState{
			ID:        spec.ID(),
			Name:      spec.Name,
			ChannelID: spec.ChannelID,
		},
	}
	m.features[spec.ID()] = rt
	m.startLocked(rt)
	return nil
}

// Restart stops the feature if needed and polls it again from scratch, so
// the first successful response is published even if unchanged.
func (m *FeatureManager) Restart(id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	rt, err := m.stop(id)
	if err != nil {
		return err
	}
	rt.poller.Reset()

	m.mu.Lock()
	defer m.mu.Unlock()
	rt.state.Restarts++
	rt.state.LastError = ""
	m.startLocked(rt)
	m.log.WithField("feature", id).Info("feature manager: feature restarted")
	return nil
}

// Stop halts a feature without unregistering it.
func (m *FeatureManager) Stop(id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	_, err := m.stop(id)
	return err
}

// Statuses returns every feature's state ordered by id.
func (m *FeatureManager) Statuses() []FeatureState {
	m.mu.RLock()
	out := make([]FeatureState, 0, len(m.features))
	for _, rt := range m.features {
		out = append(out, rt.state)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops every feature and waits for in-flight work to finish.
func (m *FeatureManager) Shutdown() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.features))
	for id := range m.features {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_, _ = m.stop(id)
	}
}

func (m *FeatureManager) stop(id string) (*featureRuntime, error) {
	m.mu.RLock()
	rt, ok := m.features[id]
	var cancel context.CancelFunc
	var done chan struct{}
	if ok {
		cancel, done = rt.cancel, rt.done
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("feature manager: %s: %w", id, ErrFeatureNotFound)
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return rt, nil
}

func (m *FeatureManager) startLocked(rt *featureRuntime) {
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	rt.cancel = cancel
	rt.done = done
	rt.state.Status = FeatureRunning
	rt.state.StartedAt = m.clock.Now().UTC()

	go m.run(ctx, rt, done)
}

func (m *FeatureManager) run(ctx context.Context, rt *featureRuntime, done chan struct{}) {
	defer close(done)
	log := m.log.WithFields(logrus.Fields{
		"feature":    rt.spec.Name,
		"channel_id": rt.spec.ChannelID,
	})
	log.Info("feature manager: feature started")

	err := rt.poller.Run(ctx, func(raw domain.RawResponse) {
		m.deliver(ctx, rt, log, raw)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		rt.state.Status = FeatureFailed
		rt.state.LastError = err.Error()
		log.WithError(err).Error("feature manager: feature failed")
		return
	}
	rt.state.Status = FeatureStopped
	log.Info("feature manager: feature stopped")
}

func (m *FeatureManager) deliver(ctx context.Context, rt *featureRuntime, log logrus.FieldLogger, raw domain.RawResponse) {
	event, err := m.cfg.Translate(raw)
	if err != nil {
		m.mu.Lock()
		rt.state.Rejected++
		m.mu.Unlock()

		var terr *domain.TranslationError
		if errors.As(err, &terr) {
			metrics.TranslationFailures.WithLabelValues(string(terr.Version), terr.Field).Inc()
			log.WithFields(logrus.Fields{
				"version": terr.Version,
				"field":   terr.Field,
				"reason":  terr.Reason,
			}).Warn("feature manager: dropping untranslatable payload")
			return
		}
		log.WithError(err).WithField("version", raw.Version).Warn("feature manager: cannot translate payload")
		return
	}

	m.cfg.Publisher.Publish(ctx, event)

	m.mu.Lock()
	rt.state.Published++
	m.mu.Unlock()
}
