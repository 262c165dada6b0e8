// Package metrics exports session lifecycle events to Prometheus.
//
// An Observer may be shared by any number of sessions; all series are
// aggregates.
//
//	obs := metrics.New(metrics.WithNamespace("myapp"))
//	s, err := rews.New(url, nil, rews.WithObserver(obs))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rewsgo/rews"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "rews").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for reconnect delays, in seconds.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the reconnect delay histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "rews",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Observer implements rews.Observer.
//
// Metrics collected:
//   - rews_state_transitions_total: Counter of state changes by from/to state
//   - rews_open_sessions: Gauge of sessions whose connection is open
//   - rews_reconnects_scheduled_total: Counter of armed reconnect timers
//   - rews_reconnect_attempts_total: Counter of reconnect timers that fired
//   - rews_reconnect_delay_seconds: Histogram of scheduled reconnect delays
//   - rews_messages_queued_total: Counter of messages buffered while offline
//   - rews_messages_sent_total: Counter of messages handed to the transport
//   - rews_messages_dropped_total: Counter of messages sent after a final close
//   - rews_queue_depth: Histogram of queue depth after each enqueue
type Observer struct {
	transitions        *prometheus.CounterVec
	openSessions       prometheus.Gauge
	reconnectScheduled prometheus.Counter
	reconnectAttempted prometheus.Counter
	reconnectDelay     prometheus.Histogram
	messagesQueued     prometheus.Counter
	messagesSent       prometheus.Counter
	messagesDropped    prometheus.Counter
	queueDepth         prometheus.Histogram
}

var _ rews.Observer = (*Observer)(nil)

// New registers the metrics and returns an Observer recording into them.
// It panics if the metrics are already registered with the registry, like
// promauto does.
func New(opts ...MetricsOption) *Observer {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Observer{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "state_transitions_total",
			Help:        "Total number of session state changes",
			ConstLabels: config.ConstLabels,
		}, []string{"from", "to"}),

		openSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "open_sessions",
			Help:        "Number of sessions with an open connection",
			ConstLabels: config.ConstLabels,
		}),

		reconnectScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_scheduled_total",
			Help:        "Total number of reconnect timers armed",
			ConstLabels: config.ConstLabels,
		}),

		reconnectAttempted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of reconnect attempts started",
			ConstLabels: config.ConstLabels,
		}),

		reconnectDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_delay_seconds",
			Help:        "Scheduled reconnect delay in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		messagesQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_queued_total",
			Help:        "Total number of messages buffered until a connection opens",
			ConstLabels: config.ConstLabels,
		}),

		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Total number of messages handed to the transport",
			ConstLabels: config.ConstLabels,
		}),

		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_dropped_total",
			Help:        "Total number of messages submitted after a final close",
			ConstLabels: config.ConstLabels,
		}),

		queueDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "queue_depth",
			Help:        "Outbound queue depth after each enqueue",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 6), // 1 to 1024
		}),
	}
}

func (o *Observer) StateChanged(from, to rews.ReadyState) {
	o.transitions.WithLabelValues(from.String(), to.String()).Inc()

	switch {
	case to == rews.StateOpen:
		o.openSessions.Inc()
	case from == rews.StateOpen:
		o.openSessions.Dec()
	}
}

func (o *Observer) ReconnectScheduled(_ int, delay time.Duration) {
	o.reconnectScheduled.Inc()
	o.reconnectDelay.Observe(delay.Seconds())
}

func (o *Observer) ReconnectAttempted(int) {
	o.reconnectAttempted.Inc()
}

func (o *Observer) MessageQueued(depth int) {
	o.messagesQueued.Inc()
	o.queueDepth.Observe(float64(depth))
}

func (o *Observer) MessageSent(int) {
	o.messagesSent.Inc()
}

func (o *Observer) MessageDropped() {
	o.messagesDropped.Inc()
}
