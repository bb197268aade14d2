package metrics

import (
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager before its collectors are registered.
type Option func(*Manager)

// WithEnabled turns recording on or off. A disabled Manager registers no
// collectors and every Record and Update helper returns without effect.
func WithEnabled(enabled bool) Option {
	return func(m *Manager) {
		m.enabled = enabled
	}
}

// WithNamespace replaces the "zikir" namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem replaces the "counter" subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithMetricPrefix puts prefix between the subsystem and each metric name,
// e.g. zikir_counter_edge_broadcasts_total.
func WithMetricPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.metricPrefix = prefix
		}
	}
}

// WithHistogramBuckets sets the buckets of the latency histograms. Fanout
// and GC pause histograms keep their own.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = slices.Clone(buckets)
		}
	}
}

// WithRefreshInterval sets how often the server refreshes its sampled
// gauges (queue utilisation, memory, goroutines).
func WithRefreshInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.refreshInterval = interval
		}
	}
}

// WithConstLabel adds a label carried by every metric, such as the node
// name when several instances share a relay. Empty values are ignored.
func WithConstLabel(name, value string) Option {
	return func(m *Manager) {
		if name != "" && value != "" {
			m.constLabels[name] = value
		}
	}
}

// WithConstLabels adds every pair of labels; see WithConstLabel.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		for name, value := range labels {
			WithConstLabel(name, value)(m)
		}
	}
}

// WithPrometheusRegistry registers the collectors on registry instead of
// the process default.
func WithPrometheusRegistry(registry prometheus.Registerer) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Configure replaces the package manager with one built from opts on a
// fresh registry, which GetRegistry then serves. Call it once at startup,
// before the /metrics handler is built.
func Configure(opts ...Option) *Manager {
	registry := prometheus.NewRegistry()
	m := NewManager(append([]Option{WithPrometheusRegistry(registry)}, opts...)...)
	customRegistry.Store(registry)
	globalManager.Store(m)
	return m
}
