package replicator

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/replicate/internal/coordinator"
	"github.com/roach88/replicate/internal/ir"
)

// Metrics exports replication activity as Prometheus metrics.
//
// It observes every hook without failing any of them, so adding it never
// changes behavior. One Metrics may be shared by several coordinators; the
// key label tells them apart.
type Metrics struct {
	events       *prometheus.CounterVec
	fieldChanges *prometheus.CounterVec
	ready        *prometheus.GaugeVec
}

// NewMetrics registers the replication metrics with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicate",
			Name:      "events_total",
			Help:      "Reductions observed after readiness, by event type",
		}, []string{"key", "type"}),
		fieldChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicate",
			Name:      "field_changes_total",
			Help:      "Replicated field changes, by field",
		}, []string{"key", "field"}),
		ready: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "replicate",
			Name:      "ready",
			Help:      "1 once the coordinator has loaded its initial state",
		}, []string{"key"}),
	}
}

// Name implements coordinator.Namer.
func (m *Metrics) Name() string {
	return "metrics"
}

// OnStateChange implements coordinator.StateChangeObserver.
func (m *Metrics) OnStateChange(_ context.Context, key coordinator.Key, _, _ ir.IRValue, _ ir.Event) error {
	m.fieldChanges.WithLabelValues(key.Name, key.Field).Inc()
	return nil
}

// PostReduction implements coordinator.PostReducer.
func (m *Metrics) PostReduction(_ context.Context, key coordinator.Key, _, _ ir.IRObject, ev ir.Event) error {
	m.events.WithLabelValues(key.Name, ev.Type).Inc()
	return nil
}

// OnReady implements coordinator.ReadyObserver.
func (m *Metrics) OnReady(key coordinator.Key, _ *coordinator.Coordinator) {
	m.ready.WithLabelValues(key.Name).Set(1)
}

// Collectors returns the underlying collectors, for tests and custom
// registries.
func (m *Metrics) Collectors() (events, fieldChanges *prometheus.CounterVec, ready *prometheus.GaugeVec) {
	return m.events, m.fieldChanges, m.ready
}
