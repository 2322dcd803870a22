package activitymap

import (
	"context"

	auth "github.com/goliatone/go-auth-session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus activity sink.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "auth").
	Namespace string

	// Subsystem is the metrics subsystem (default: "session").
	Subsystem string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus activity sink.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// MetricsSink counts session activity by event type and provider.
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink registers the activity counters and returns a sink that
// feeds them.
func NewMetricsSink(opts ...MetricsOption) *MetricsSink {
	config := MetricsConfig{
		Namespace: "auth",
		Subsystem: "session",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}

	factory := promauto.With(config.Registry)

	return &MetricsSink{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "events_total",
			Help:      "Session lifecycle events by type and provider.",
		}, []string{"event", "provider"}),
	}
}

// Record implements auth.ActivitySink.
func (s *MetricsSink) Record(_ context.Context, event auth.ActivityEvent) error {
	provider := event.Provider
	if provider == "" {
		provider = "unknown"
	}
	s.events.WithLabelValues(string(event.EventType), provider).Inc()
	return nil
}

// Collector exposes the underlying counter, mostly for tests.
func (s *MetricsSink) Collector() *prometheus.CounterVec {
	return s.events
}

var _ auth.ActivitySink = (*MetricsSink)(nil)
