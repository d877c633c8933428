// Package metrics exposes prometheus collectors for the resilient call
// layer and stage executions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

// Metrics implements resilience.Observer and the stage observer hook of
// the dispatcher, backed by a private prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec

	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	itemsCreated  *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the standard
// Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortsforge", Name: "provider_calls_total",
			Help: "Mediated provider calls by service, class, and outcome kind.",
		}, []string{"service", "class", "kind"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shortsforge", Name: "provider_call_duration_seconds",
			Help:    "Latency of mediated provider calls.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"service", "class"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortsforge", Name: "breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"service", "class", "to"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortsforge", Name: "stage_executions_total",
			Help: "Stage executions by outcome: ok or the error kind.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shortsforge", Name: "stage_duration_seconds",
			Help:    "Wall-clock duration of stage executions.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"stage"}),
		itemsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shortsforge", Name: "items_created_total",
			Help: "New items by source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		m.calls, m.callDuration, m.transitions,
		m.stageRuns, m.stageDuration, m.itemsCreated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CallObserved implements resilience.Observer.
func (m *Metrics) CallObserved(service string, class resilience.OperationClass, latency time.Duration, kind errkind.Kind) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	m.calls.WithLabelValues(service, string(class), outcome).Inc()
	m.callDuration.WithLabelValues(service, string(class)).Observe(latency.Seconds())
}

// BreakerTransition implements resilience.Observer.
func (m *Metrics) BreakerTransition(service string, class resilience.OperationClass, _, to string) {
	m.transitions.WithLabelValues(service, string(class), to).Inc()
}

// StageObserved records one stage execution.
func (m *Metrics) StageObserved(stage string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errkind.KindOf(err))
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ItemCreated records a newly sourced item.
func (m *Metrics) ItemCreated(source string) {
	m.itemsCreated.WithLabelValues(source).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
