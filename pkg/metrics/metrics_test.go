package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewsgo/rews"
	"github.com/rewsgo/rews/internal/mock"
	"github.com/rewsgo/rews/pkg/metrics"
)

func TestObserver(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs := metrics.New(metrics.WithRegistry(registry), metrics.WithNamespace("test"))

	obs.StateChanged(rews.StateConnecting, rews.StateOpen)
	obs.StateChanged(rews.StateOpen, rews.StateClosed)
	obs.StateChanged(rews.StateClosed, rews.StateConnecting)
	obs.StateChanged(rews.StateConnecting, rews.StateOpen)

	obs.ReconnectScheduled(1, 1500*time.Millisecond)
	obs.ReconnectAttempted(1)
	obs.MessageQueued(1)
	obs.MessageQueued(2)
	obs.MessageSent(1)
	obs.MessageDropped()

	families, err := registry.Gather()
	require.NoError(t, err)

	got := map[string]bool{}
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range []string{
		"test_state_transitions_total",
		"test_open_sessions",
		"test_reconnects_scheduled_total",
		"test_reconnect_attempts_total",
		"test_reconnect_delay_seconds",
		"test_messages_queued_total",
		"test_messages_sent_total",
		"test_messages_dropped_total",
		"test_queue_depth",
	} {
		assert.True(t, got[name], "missing %s", name)
	}

	count, err := testutil.GatherAndCount(registry, "test_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "one series per distinct from/to pair")
}

func TestObserver_WithSession(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs := metrics.New(metrics.WithRegistry(registry))

	f := mock.Create()
	s, err := rews.New("ws://example.test", nil,
		rews.WithTransport(f),
		rews.WithObserver(obs),
		rews.WithBackoff(time.Hour, time.Hour, 1),
	)
	require.NoError(t, err)
	defer s.CloseFinal(0, "")

	s.Send([]byte("queued"))
	f.Last().EmitOpen()
	f.Last().EmitClose(1006, "", false)

	assert.InDelta(t, 0, metricValue(t, registry, "rews_open_sessions"), 0)
	assert.InDelta(t, 1, metricValue(t, registry, "rews_messages_queued_total"), 0)
	assert.InDelta(t, 1, metricValue(t, registry, "rews_messages_sent_total"), 0)
	assert.InDelta(t, 1, metricValue(t, registry, "rews_reconnects_scheduled_total"), 0)
}

// metricValue returns the value of a single-series counter or gauge.
func metricValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()

	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
