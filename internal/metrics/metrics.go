package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bus Metrics
var (
	// EventsPublished tracks events accepted by the bus by kind
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bus_events_published_total",
			Help: "Events published on the bus by kind",
		},
		[]string{"kind"},
	)

	// EventsDropped tracks events a subscriber queue could not hold
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bus_events_dropped_total",
			Help: "Events dropped by subscriber overflow policy, by kind and subscriber",
		},
		[]string{"kind", "subscriber"},
	)

	// Subscribers tracks active bus subscriptions
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_bus_subscribers",
			Help: "Active bus subscriptions",
		},
	)

	// RemoteEnvelopes tracks envelopes exchanged with the cross-process backend
	RemoteEnvelopes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bus_remote_envelopes_total",
			Help: "Envelopes exchanged with the remote backend by direction and status",
		},
		[]string{"direction", "status"},
	)
)

// Poller Metrics
var (
	// PollRequests tracks poll attempts by feature and outcome
	PollRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_poll_requests_total",
			Help: "Poll requests by feature and outcome (changed, unchanged, transient, fatal)",
		},
		[]string{"feature", "outcome"},
	)

	// PollBackoffSeconds tracks the current backoff delay per feature
	PollBackoffSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_poll_backoff_seconds",
			Help: "Current retry delay per feature, zero when healthy",
		},
		[]string{"feature"},
	)

	// TranslationFailures tracks payloads dropped by translators
	TranslationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_translation_failures_total",
			Help: "Raw payloads rejected by translators by version and field",
		},
		[]string{"version", "field"},
	)
)

// Repository Metrics
var (
	// RepositoryOps tracks document store operations
	RepositoryOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_repository_operations_total",
			Help: "Document repository operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RepositoryOpDuration tracks document store latency in seconds
	RepositoryOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_repository_operation_duration_seconds",
			Help:    "Document repository operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Websocket Metrics
var (
	// ConnectedClients tracks websocket clients receiving envelopes
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_ws_connected_clients",
			Help: "Websocket clients receiving bus envelopes",
		},
	)
)
