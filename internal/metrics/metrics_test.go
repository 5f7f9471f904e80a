package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEventsDropped_LabelsAreIndependent(t *testing.T) {
	EventsDropped.WithLabelValues("cheermotes", "metrics-test-a").Inc()
	EventsDropped.WithLabelValues("cheermotes", "metrics-test-a").Inc()
	EventsDropped.WithLabelValues("notification", "metrics-test-b").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(EventsDropped.WithLabelValues("cheermotes", "metrics-test-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(EventsDropped.WithLabelValues("notification", "metrics-test-b")))
}

func TestPollBackoffSeconds_Resets(t *testing.T) {
	g := PollBackoffSeconds.WithLabelValues("metrics-test")
	g.Set(4)
	g.Set(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(g))
}
