// Package metrics exposes Prometheus metrics of a harness run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jmqtt"

// Results of an assertion.
const (
	ResultPass  = "pass"
	ResultFail  = "fail"
	ResultError = "error"
)

// Metrics holds the collectors of one run, registered on their own
// registry.
type Metrics struct {
	reg *prometheus.Registry

	Assertions *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Requests   *prometheus.CounterVec
	Steps      *prometheus.CounterVec
}

// New creates the collectors and their registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Assertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "assertions_total",
			Help:      "Reconciliations of the reference model with a channel.",
		}, []string{"channel", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of a reconciliation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"channel"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests sent to the plugin.",
		}, []string{"channel", "method"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "steps_total",
			Help:      "Executed scenario steps.",
		}, []string{"action", "result"}),
	}
	m.reg.MustRegister(collectors.NewBuildInfoCollector())
	m.reg.MustRegister(m.Assertions, m.Duration, m.Requests, m.Steps)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveAssertion records one reconciliation. A nil receiver is a no-op.
func (m *Metrics) ObserveAssertion(channel, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Assertions.WithLabelValues(channel, result).Inc()
	m.Duration.WithLabelValues(channel).Observe(took.Seconds())
}

// ObserveRequest records one API request. A nil receiver is a no-op.
func (m *Metrics) ObserveRequest(channel, method string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(channel, method).Inc()
}

// ObserveStep records one scenario step. A nil receiver is a no-op.
func (m *Metrics) ObserveStep(action, result string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(action, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
