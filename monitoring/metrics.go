// Package monitoring exposes Prometheus metrics for selection decisions and
// recorded provider outcomes.
package monitoring

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a provider was selected.
const (
	ReasonOverride = "override"
	ReasonRanked   = "ranked"
	ReasonFallback = "fallback"
)

// Outcomes reported back by the dispatcher.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics collects selection and health counters on a private registry.
// A nil *Metrics is valid and records nothing, so callers can leave
// monitoring unwired.
type Metrics struct {
	registry *prometheus.Registry

	selectionsTotal    *prometheus.CounterVec
	outcomesTotal      *prometheus.CounterVec
	priorityAdjustment *prometheus.GaugeVec
}

func NewMetrics(namespace string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		selectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selections_total",
				Help:      "Total number of provider selection decisions",
			},
			[]string{"provider", "reason"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Total number of recorded upstream outcomes",
			},
			[]string{"provider", "outcome"},
		),
		priorityAdjustment: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "priority_adjustment",
				Help:      "Current health-derived priority adjustment per provider",
			},
			[]string{"provider"},
		),
	}

	for _, collector := range []prometheus.Collector{
		m.selectionsTotal, m.outcomesTotal, m.priorityAdjustment,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register collector: %v", err)
		}
	}
	return m, nil
}

func (m *Metrics) RecordSelection(provider string, reason string) {
	if m == nil {
		return
	}
	m.selectionsTotal.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) RecordOutcome(provider string, outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) SetPriorityAdjustment(provider string, adjustment int) {
	if m == nil {
		return
	}
	m.priorityAdjustment.WithLabelValues(provider).Set(float64(adjustment))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
